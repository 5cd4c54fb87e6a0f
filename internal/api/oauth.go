package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"example.com/activitysync/internal/auth"
	"example.com/activitysync/internal/domain"
)

// providerScopes maps the connect options offered to users onto provider scope strings.
var providerScopes = map[string]string{
	"read":     "read",
	"read_all": "read,activity:read_all",
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	userID, err := auth.UserID(claims)
	if requested := r.URL.Query().Get("user_id"); requested != "" {
		if !auth.CanActAs(claims, requested) {
			writeError(w, http.StatusForbidden, "forbidden", "not permitted for this user")
			return
		}
		userID, err = uuid.Parse(requested)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid user id")
		return
	}

	option := r.URL.Query().Get("scope")
	if option == "" {
		option = "read"
	}
	scope, ok := providerScopes[option]
	if !ok {
		writeError(w, http.StatusBadRequest, "validation_failed", "scope must be read or read_all")
		return
	}

	state, err := h.States.Issue(userID, scope)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"authorize_url": h.OAuth.AuthCodeURL(state, scope)})
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		writeError(w, http.StatusBadRequest, "access_denied", reason)
		return
	}

	userID, requestedScope, err := h.States.Verify(q.Get("state"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_state", "state is invalid or expired")
		return
	}
	code := strings.TrimSpace(q.Get("code"))
	if code == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing code")
		return
	}

	ctx := r.Context()
	if _, err := h.Users.GetUser(ctx, userID); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		h.serverError(w, r, err)
		return
	}

	grant, err := h.OAuth.ExchangeCode(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrReauthenticationRequired) {
			writeError(w, http.StatusBadRequest, "invalid_grant", "authorization code rejected")
			return
		}
		h.credentialError(w, r, err)
		return
	}
	if grant.AthleteID == 0 {
		h.Logger.Error("token grant without athlete", "user_id", userID)
		writeError(w, http.StatusBadGateway, "provider_error", "provider returned no athlete")
		return
	}

	// The callback reports what the user actually granted, which can be narrower
	// than what was requested.
	scope := q.Get("scope")
	if scope == "" {
		scope = grant.Scope
	}
	if scope == "" {
		scope = requestedScope
	}

	// A sweep still running for the previous connection must not read with the new tokens.
	if err := h.Syncs.StopSync(ctx, userID); err != nil {
		h.serverError(w, r, err)
		return
	}

	now := h.Now().UTC()
	cred := domain.Credential{
		UserID:       userID,
		AthleteID:    grant.AthleteID,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    grant.ExpiresAt.UTC(),
		Scope:        scope,
		ConnectedAt:  now,
		UpdatedAt:    now,
	}
	if err := h.Credentials.SaveCredential(ctx, cred); err != nil {
		h.serverError(w, r, err)
		return
	}

	sync := "started"
	if err := h.Syncs.RestartHistoricalSync(ctx, userID); err != nil {
		h.Logger.Error("historical sync not started", "user_id", userID, "error", err)
		sync = "not_started"
	}

	h.Logger.Info("provider account connected", "user_id", userID, "athlete_id", grant.AthleteID, "scope", scope)
	writeJSON(w, http.StatusOK, ConnectResponse{
		Status:    "connected",
		UserID:    userID.String(),
		AthleteID: grant.AthleteID,
		Scope:     scope,
		Sync:      sync,
	})
}
