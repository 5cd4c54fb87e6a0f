package outbox

const activityUpsertedSchema = `{
  "type": "object",
  "title": "ActivityUpserted",
  "properties": {
    "activity_id": {"type": "integer"},
    "athlete_id": {"type": "integer"},
    "name": {"type": "string"},
    "sport_type": {"type": "string"},
    "start_date": {"type": "string", "format": "date-time"},
    "distance": {"type": "number"},
    "moving_time": {"type": "integer"},
    "fetched_at": {"type": "string", "format": "date-time"}
  },
  "required": ["activity_id", "athlete_id", "start_date", "fetched_at"],
  "additionalProperties": false
}`

const activityDeletedSchema = `{
  "type": "object",
  "title": "ActivityDeleted",
  "properties": {
    "activity_id": {"type": "integer"},
    "athlete_id": {"type": "integer"},
    "deleted_at": {"type": "string", "format": "date-time"}
  },
  "required": ["activity_id", "athlete_id", "deleted_at"],
  "additionalProperties": false
}`
