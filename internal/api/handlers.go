// Package api exposes HTTP handlers for the challenge service.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/NumaanQureshi/Journey/internal/auth"
	"github.com/NumaanQureshi/Journey/internal/domain"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/challenges", h.challenges)
	mux.HandleFunc("/v1/challenges/", h.challengeByID)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) challenges(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listChallenges(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) challengeByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/challenges/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing challenge id")
		return
	}

	switch r.Method {
	case http.MethodPut:
		h.updateProgress(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// listChallenges ensures the caller's current challenge sets exist, then
// returns them. Generation happens lazily on the read path, so a brand-new
// user's first list call also bootstraps their all-time challenges.
func (h *Handler) listChallenges(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeChallengesRead) && !claims.HasScope(auth.ScopeChallengesWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope challenges:read required")
		return
	}

	instances, err := h.service.ListCurrent(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientTemplates) {
			writeError(w, http.StatusInternalServerError, "configuration_error", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]ChallengeView, 0, len(instances))
	for _, inst := range instances {
		items = append(items, toChallengeView(inst))
	}
	writeJSON(w, http.StatusOK, ListChallengesResponse{Items: items})
}

func (h *Handler) updateProgress(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeChallengesWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope challenges:write required")
		return
	}

	// The client sends an increment, not the new total; an absent body means
	// increment by one.
	req := UpdateProgressRequest{Increment: 1}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	updated, alreadyCompleted, err := h.service.ApplyIncrement(r.Context(), claims.Subject, id, req.Increment)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidIncrement):
			writeError(w, http.StatusBadRequest, "validation_failed", "increment must be a positive number")
		case errors.Is(err, domain.ErrChallengeNotFound), errors.Is(err, domain.ErrUnauthorized):
			// Same body for both so callers cannot probe other users' instances.
			writeError(w, http.StatusNotFound, "not_found", "challenge not found")
		default:
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, UpdateProgressResponse{
		Challenge:        toChallengeView(*updated),
		AlreadyCompleted: alreadyCompleted,
	})
}

// UpdateProgressRequest is the payload for PUT /v1/challenges/{id}.
type UpdateProgressRequest struct {
	Increment float64 `json:"increment"`
}

// UpdateProgressResponse describes the response body for a progress update.
type UpdateProgressResponse struct {
	Challenge        ChallengeView `json:"challenge"`
	AlreadyCompleted bool          `json:"already_completed"`
}

// ChallengeView exposes a challenge instance to clients.
type ChallengeView struct {
	ChallengeID     string     `json:"challenge_id"`
	Tier            string     `json:"tier"`
	Title           string     `json:"title"`
	Goal            float64    `json:"goal"`
	CurrentProgress float64    `json:"current_progress"`
	Remaining       float64    `json:"remaining"`
	IsCompleted     bool       `json:"is_completed"`
	PeriodKey       string     `json:"period_key"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// ListChallengesResponse packages the caller's current challenge sets.
type ListChallengesResponse struct {
	Items []ChallengeView `json:"items"`
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

func toChallengeView(inst domain.ChallengeInstance) ChallengeView {
	return ChallengeView{
		ChallengeID:     inst.ID,
		Tier:            string(inst.Tier),
		Title:           inst.Title,
		Goal:            inst.Goal,
		CurrentProgress: inst.CurrentProgress,
		Remaining:       inst.Remaining(),
		IsCompleted:     inst.IsCompleted,
		PeriodKey:       inst.PeriodKey,
		CreatedAt:       inst.CreatedAt,
		CompletedAt:     inst.CompletedAt,
	}
}
