package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ctf-flag-service/internal/app"
	"ctf-flag-service/internal/domain"
)

// API exposes the submission workflow and the admin reads over JSON/HTTP.
type API struct {
	service *app.FlagService
}

func NewAPI(service *app.FlagService) *API {
	return &API{service: service}
}

// Register wires the API routes into mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/submissions", a.handleSubmit)
	mux.HandleFunc("/api/submissions/recent", a.handleHistory)
	mux.HandleFunc("/api/scoreboard", a.handleScoreboard)
	mux.HandleFunc("/api/teams/", a.handleTeam)
}

type submitRequest struct {
	TeamID     string `json:"teamId"`
	QuestionID string `json:"questionId"`
	Flag       string `json:"flag"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Message: "method not allowed"})
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.TeamID) == "" || strings.TrimSpace(req.QuestionID) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "missing teamId or questionId"})
		return
	}

	verdict, err := a.service.Submit(r.Context(), req.TeamID, req.QuestionID, req.Flag)
	if err != nil {
		log.Printf("submit %s/%s failed: %v", req.TeamID, req.QuestionID, err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Message: "Service temporarily unavailable. Please try again.",
		})
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

func (a *API) handleScoreboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Message: "method not allowed"})
		return
	}
	sb, err := a.service.Scoreboard(r.Context())
	if err != nil {
		log.Printf("scoreboard read failed: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Message: "scoreboard unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, sb)
}

type teamResponse struct {
	TeamID          string     `json:"teamId"`
	QuestionsSolved []string   `json:"questionsSolved"`
	TotalCount      int        `json:"totalCount"`
	LastSolvedAt    *time.Time `json:"lastSolvedAt,omitempty"`
}

func (a *API) handleTeam(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Message: "method not allowed"})
		return
	}
	teamID := strings.TrimPrefix(r.URL.Path, "/api/teams/")
	if teamID == "" || strings.Contains(teamID, "/") {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "missing team id"})
		return
	}

	team, err := a.service.TeamProgress(r.Context(), teamID)
	if errors.Is(err, domain.ErrTeamNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "Team not found. Check your team ID."})
		return
	}
	if err != nil {
		log.Printf("team progress %s failed: %v", teamID, err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Message: "team progress unavailable"})
		return
	}

	resp := teamResponse{
		TeamID:          team.ID,
		QuestionsSolved: team.QuestionsSolved,
		TotalCount:      team.TotalCount,
	}
	if resp.QuestionsSolved == nil {
		resp.QuestionsSolved = []string{}
	}
	if !team.LastSolvedAt.IsZero() {
		at := team.LastSolvedAt
		resp.LastSolvedAt = &at
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Message: "method not allowed"})
		return
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 100 {
		limit = 100
	}

	history, err := a.service.History(r.Context(), limit)
	if err != nil {
		log.Printf("history read failed: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Message: "history unavailable"})
		return
	}
	if history == nil {
		history = []domain.Submission{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":       len(history),
		"submissions": history,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("write response: %v", err)
	}
}
