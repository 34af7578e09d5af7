package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/interview"
	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/store"
)

// SessionAPI serves the REST surface over interview sessions: invite
// creation, status reads, and manual document regeneration.
type SessionAPI struct {
	Store     SessionStore
	Publisher DocumentPublisher
	Logger    *slog.Logger
}

// SessionStore is the slice of the store the REST endpoints need.
type SessionStore interface {
	Create(ctx context.Context, sess *interview.Session) error
	FindByToken(ctx context.Context, token string) (*interview.Session, error)
}

// DocumentPublisher is the synthesis trigger the regenerate endpoint calls.
type DocumentPublisher interface {
	Regenerate(token string)
}

type createSessionRequest struct {
	Participant interview.Participant `json:"participant"`
}

type createSessionResponse struct {
	Token  string `json:"token"`
	Status string `json:"status"`
}

// Create handles POST /v1/sessions: mint an invite token and insert a
// pending session.
func (a *SessionAPI) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body", "")
		return
	}
	if strings.TrimSpace(req.Participant.Name) == "" {
		writeError(w, http.StatusBadRequest, "participant name is required", "participant.name")
		return
	}

	sess := &interview.Session{
		Token:       uuid.NewString(),
		Participant: req.Participant,
		Status:      interview.StatusPending,
	}
	if err := a.Store.Create(r.Context(), sess); err != nil {
		a.Logger.Error("failed to create session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session", "")
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{
		Token:  sess.Token,
		Status: string(sess.Status),
	})
}

// Get handles GET /v1/sessions/{token}: the full session document, including
// transcript, frames, and any synthesized output.
func (a *SessionAPI) Get(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	sess, err := a.Store.FindByToken(r.Context(), token)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found", "token")
		return
	}
	if err != nil {
		a.Logger.Error("failed to load session", "session_token", token, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load session", "")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// RegenerateDocument handles POST /v1/sessions/{token}/document: re-run
// synthesis over the persisted transcript. Only sessions past their live
// phase qualify.
func (a *SessionAPI) RegenerateDocument(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	sess, err := a.Store.FindByToken(r.Context(), token)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found", "token")
		return
	}
	if err != nil {
		a.Logger.Error("failed to load session", "session_token", token, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load session", "")
		return
	}
	switch sess.Status {
	case interview.StatusPending, interview.StatusActive:
		writeError(w, http.StatusConflict, "session has not finished yet", "token")
		return
	}

	a.Publisher.Regenerate(token)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "processing"})
}
