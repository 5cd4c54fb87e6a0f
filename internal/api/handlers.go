// Package api exposes HTTP handlers for the activity sync service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/activitysync/internal/auth"
	"example.com/activitysync/internal/domain"
	"example.com/activitysync/internal/persistence"
	"example.com/activitysync/internal/webhook"
)

// TokenService hands out valid provider access tokens.
type TokenService interface {
	GetValidAccessToken(ctx context.Context, userID uuid.UUID) (string, error)
	Invalidate(ctx context.Context, userID uuid.UUID, reason string) error
}

// SyncRunner controls background historical sweeps.
type SyncRunner interface {
	TriggerHistoricalSync(ctx context.Context, userID uuid.UUID) error
	RestartHistoricalSync(ctx context.Context, userID uuid.UUID) error
	SyncRunning(userID uuid.UUID) bool
	CancelSync(userID uuid.UUID) bool
	StopSync(ctx context.Context, userID uuid.UUID) error
}

// OAuthProvider is the provider side of the connect and disconnect flows.
type OAuthProvider interface {
	AuthCodeURL(state, scope string) string
	ExchangeCode(ctx context.Context, code string) (domain.TokenGrant, error)
	Deauthorize(ctx context.Context, accessToken string) error
}

// Dependencies are the collaborators a Handler serves requests with.
type Dependencies struct {
	Service     *domain.Service
	Users       domain.UserStore
	Credentials domain.CredentialStore
	Tokens      TokenService
	Syncs       SyncRunner
	OAuth       OAuthProvider
	States      *auth.StateSigner
	Webhook     *webhook.Handler
	Logger      *slog.Logger
	Now         func() time.Time
}

// Handler coordinates HTTP requests with the domain services.
type Handler struct {
	Dependencies
}

// NewHandler builds a Handler.
func NewHandler(deps Dependencies) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Handler{Dependencies: deps}
}

// RegisterRoutes wires endpoints to the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", healthz)
	r.Handle("/metrics", promhttp.Handler())
	if h.Webhook != nil {
		h.Webhook.RegisterRoutes(r)
	}

	r.Get("/oauth/authorize", h.authorize)
	r.Get("/oauth/callback", h.callback)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/users", h.createUser)
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/token", h.getToken)
			r.Get("/sync", h.getSync)
			r.Post("/sync", h.triggerSync)
			r.Delete("/connection", h.disconnect)
		})
		r.Get("/athletes/{athleteID}/activities", h.listActivities)
		r.Get("/athletes/{athleteID}/activities/{activityID}", h.getActivity)
	})
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, auth.ScopeUsersWrite); !ok {
		return
	}

	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	user, err := h.Users.EnsureUser(r.Context(), req.Email)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserView(*user))
}

func (h *Handler) getToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorizeUser(w, r, auth.ScopeTokensRead)
	if !ok {
		return
	}

	token, err := h.Tokens.GetValidAccessToken(r.Context(), userID)
	if err != nil {
		h.credentialError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{AccessToken: token, TokenType: "Bearer"})
}

func (h *Handler) getSync(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorizeUser(w, r, auth.ScopeSyncRead)
	if !ok {
		return
	}

	overview, err := h.Service.SyncOverview(r.Context(), userID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSyncStatusView(*overview, h.Syncs.SyncRunning(userID)))
}

func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorizeUser(w, r, auth.ScopeSyncWrite)
	if !ok {
		return
	}

	cred, err := h.Credentials.GetCredential(r.Context(), userID)
	if err != nil {
		h.credentialError(w, r, err)
		return
	}
	if cred.Revoked() {
		h.credentialError(w, r, domain.ErrReauthenticationRequired)
		return
	}

	if err := h.Syncs.TriggerHistoricalSync(r.Context(), userID); err != nil {
		if errors.Is(err, domain.ErrSyncInProgress) {
			writeError(w, http.StatusConflict, "sync_in_progress", "a historical sync is already running")
			return
		}
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorizeUser(w, r, auth.ScopeUsersWrite)
	if !ok {
		return
	}
	ctx := r.Context()

	cred, err := h.Credentials.GetCredential(ctx, userID)
	if err != nil {
		h.credentialError(w, r, err)
		return
	}

	h.Syncs.CancelSync(userID)
	if !cred.Revoked() {
		if token, err := h.Tokens.GetValidAccessToken(ctx, userID); err == nil {
			if err := h.OAuth.Deauthorize(ctx, token); err != nil {
				h.Logger.Warn("provider deauthorize failed", "user_id", userID, "error", err)
			}
		}
		if err := h.Tokens.Invalidate(ctx, userID, "disconnected"); err != nil && !errors.Is(err, domain.ErrCredentialNotFound) {
			h.serverError(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	athleteID, ok := h.authorizeAthlete(w, r)
	if !ok {
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 200 {
				parsed = 200
			}
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	activities, next, err := h.Service.ListActivities(r.Context(), athleteID, cursor, limit)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	items := make([]ActivityView, 0, len(activities))
	for _, activity := range activities {
		items = append(items, toActivityView(activity))
	}
	writeJSON(w, http.StatusOK, ListActivitiesResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request) {
	athleteID, ok := h.authorizeAthlete(w, r)
	if !ok {
		return
	}

	activityID, err := strconv.ParseInt(chi.URLParam(r, "activityID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid activity id")
		return
	}

	activity, err := h.Service.GetActivity(r.Context(), athleteID, activityID)
	if err != nil {
		if errors.Is(err, domain.ErrActivityNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "activity not found")
			return
		}
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(*activity))
}

// authorizeUser resolves {userID} and checks the caller may act for that user.
func (h *Handler) authorizeUser(w http.ResponseWriter, r *http.Request, scope string) (uuid.UUID, bool) {
	claims, ok := requireScope(w, r, scope)
	if !ok {
		return uuid.Nil, false
	}
	raw := chi.URLParam(r, "userID")
	userID, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid user id")
		return uuid.Nil, false
	}
	if !auth.CanActAs(claims, userID.String()) {
		writeError(w, http.StatusForbidden, "forbidden", "not permitted for this user")
		return uuid.Nil, false
	}
	return userID, true
}

// authorizeAthlete resolves {athleteID} and checks the caller's connection owns it.
func (h *Handler) authorizeAthlete(w http.ResponseWriter, r *http.Request) (int64, bool) {
	claims, ok := requireScope(w, r, auth.ScopeActivitiesRead)
	if !ok {
		return 0, false
	}
	athleteID, err := strconv.ParseInt(chi.URLParam(r, "athleteID"), 10, 64)
	if err != nil || athleteID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid athlete id")
		return 0, false
	}
	if claims.HasScope(auth.ScopeInternal) {
		return athleteID, true
	}

	userID, err := auth.UserID(claims)
	if err == nil {
		cred, err := h.Credentials.GetCredential(r.Context(), userID)
		if err == nil && !cred.Revoked() && cred.AthleteID == athleteID {
			return athleteID, true
		}
		if err != nil && !errors.Is(err, domain.ErrCredentialNotFound) {
			h.serverError(w, r, err)
			return 0, false
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "athlete not connected to caller")
	return 0, false
}

func requireScope(w http.ResponseWriter, r *http.Request, scope string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if !claims.HasScope(scope) && !claims.HasScope(auth.ScopeInternal) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return nil, false
	}
	return claims, true
}

// credentialError maps token and credential failures. Only a dead refresh token asks
// the client to reconnect.
func (h *Handler) credentialError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrReauthenticationRequired):
		writeError(w, http.StatusConflict, "reauthentication_required", "reconnect the provider account")
	case errors.Is(err, domain.ErrCredentialNotFound):
		writeError(w, http.StatusNotFound, "not_connected", "no provider account connected")
	case errors.Is(err, domain.ErrProviderUnavailable), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "provider_unavailable", "provider unavailable, retry later")
	default:
		h.serverError(w, r, err)
	}
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	h.Logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "server_error", "internal error")
}

// CreateUserRequest is the payload for POST /v1/users.
type CreateUserRequest struct {
	Email string `json:"email"`
}

// Validate ensures request correctness.
func (r CreateUserRequest) Validate() error {
	email := strings.TrimSpace(r.Email)
	if email == "" {
		return errors.New("email is required")
	}
	if !strings.Contains(email, "@") {
		return errors.New("email is invalid")
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
