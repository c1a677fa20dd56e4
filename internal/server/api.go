package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/HynixCorp/reach-backend-sub000/internal/achievements"
	"github.com/HynixCorp/reach-backend-sub000/pkg/overlay"
)

// JSON API consumed by the platform's controllers and dashboards.

type sendRequest struct {
	Target  overlay.Target      `json:"target"`
	Kind    overlay.MessageKind `json:"kind"`
	Payload json.RawMessage     `json:"payload"`
}

type sendResponse struct {
	Success    bool `json:"success"`
	Recipients int  `json:"recipients"`
}

type unlockRequest struct {
	Identity      string `json:"identity"`
	AchievementID string `json:"achievementId"`
}

func (a *App) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/send", a.handleSend)
	mux.HandleFunc("POST /api/achievements/unlock", a.handleUnlock)
	mux.HandleFunc("GET /api/achievements", a.handleListAchievements)
	mux.HandleFunc("PUT /api/achievements/{id}", a.handlePutAchievement)
	mux.HandleFunc("GET /api/achievements/unlocks/{identity}", a.handleListUnlocks)
	mux.HandleFunc("GET /api/presence", a.handleAllPresences)
	mux.HandleFunc("GET /api/presence/{identity}", a.handlePresence)
	mux.HandleFunc("GET /api/experiences", a.handleExperiences)
	mux.HandleFunc("GET /api/experiences/{id}/members", a.handleExperienceMembers)
	mux.HandleFunc("GET /api/stats", a.handleStats)
}

func (a *App) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	switch req.Kind {
	case overlay.KindAchievementUnlock, overlay.KindToast, overlay.KindCommand:
	default:
		http.Error(w, "unknown message kind", http.StatusBadRequest)
		return
	}

	receipt, err := a.hub.Send(req.Target, overlay.Envelope{Type: req.Kind, Payload: req.Payload})
	if err != nil {
		// Resolution errors are caller mistakes; zero recipients is not one.
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.writeJSON(w, http.StatusOK, sendResponse{Success: receipt.Delivered, Recipients: receipt.Recipients})
}

func (a *App) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Identity == "" || req.AchievementID == "" {
		http.Error(w, "identity and achievementId are required", http.StatusBadRequest)
		return
	}

	result, err := a.achievements.Unlock(r.Context(), req.Identity, req.AchievementID)
	if err != nil {
		if errors.Is(err, achievements.ErrUnknownAchievement) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		a.logger.Error("unlock failed", slog.Any("error", err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, http.StatusOK, result)
}

func (a *App) handleListAchievements(w http.ResponseWriter, r *http.Request) {
	list, err := a.achievements.List(r.Context())
	if err != nil {
		a.logger.Error("list achievements failed", slog.Any("error", err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, http.StatusOK, list)
}

func (a *App) handlePutAchievement(w http.ResponseWriter, r *http.Request) {
	var def achievements.Achievement
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	def.ID = r.PathValue("id")
	if def.ID == "" || def.Name == "" {
		http.Error(w, "id and name are required", http.StatusBadRequest)
		return
	}
	if err := a.achievements.Put(r.Context(), def); err != nil {
		a.logger.Error("put achievement failed", slog.Any("error", err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, http.StatusOK, def)
}

func (a *App) handleListUnlocks(w http.ResponseWriter, r *http.Request) {
	unlocks, err := a.achievements.UnlocksFor(r.Context(), r.PathValue("identity"))
	if err != nil {
		a.logger.Error("list unlocks failed", slog.Any("error", err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, http.StatusOK, unlocks)
}

func (a *App) handleAllPresences(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, presenceViews(a.hub.GetAllPresences()))
}

func (a *App) handlePresence(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.hub.GetPresence(r.PathValue("identity"))
	if !ok {
		http.Error(w, "identity is not connected", http.StatusNotFound)
		return
	}
	a.writeJSON(w, http.StatusOK, presenceView(rec))
}

func (a *App) handleExperiences(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, a.hub.GetAllExperiences())
}

func (a *App) handleExperienceMembers(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.hub.GetExperienceMembers(r.PathValue("id")))
}

func (a *App) handleStats(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, a.hub.Stats())
}

func (a *App) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to encode response", slog.Any("error", err))
	}
}

// presenceResponse is the wire shape for presence reads.
type presenceResponse struct {
	Identity     string `json:"identity"`
	Status       string `json:"status"`
	Detail       string `json:"detail,omitempty"`
	ExperienceID string `json:"experienceId,omitempty"`
	ConnectedAt  string `json:"connectedAt"`
	UpdatedAt    string `json:"updatedAt"`
}

func presenceView(rec overlay.PresenceRecord) presenceResponse {
	return presenceResponse{
		Identity:     rec.Identity,
		Status:       string(rec.Status),
		Detail:       rec.Detail,
		ExperienceID: rec.ExperienceID,
		ConnectedAt:  rec.ConnectedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    rec.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func presenceViews(recs []overlay.PresenceRecord) []presenceResponse {
	views := make([]presenceResponse, 0, len(recs))
	for _, rec := range recs {
		views = append(views, presenceView(rec))
	}
	return views
}
