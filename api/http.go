// Package api exposes the automation engine's command surface over HTTP:
// rule CRUD and control, manual triggers, engine status, execution history,
// and the review queue.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/automatonhq/automaton/automation"
	"github.com/automatonhq/automaton/registry"
)

// Server handles the HTTP command surface.
type Server struct {
	engine *automation.Engine
	agents *registry.AgentRegistry
	skills *registry.SkillRegistry
	logger *slog.Logger
}

// NewServer creates the command surface over the engine and registries.
func NewServer(engine *automation.Engine, agents *registry.AgentRegistry, skills *registry.SkillRegistry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, agents: agents, skills: skills, logger: logger}
}

// RegisterHTTPHandlers registers all handlers under prefix (which includes
// the trailing slash, e.g. "/api/").
func (s *Server) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	mux.HandleFunc(prefix+"status", s.handleStatus)
	mux.HandleFunc(prefix+"enable", s.handleEngineToggle(true))
	mux.HandleFunc(prefix+"disable", s.handleEngineToggle(false))
	mux.HandleFunc(prefix+"rules", s.handleRules)
	mux.HandleFunc(prefix+"rules/", s.handleRule(prefix+"rules/"))
	mux.HandleFunc(prefix+"executions", s.handleExecutions)
	mux.HandleFunc(prefix+"reviews", s.handleReviews)
	mux.HandleFunc(prefix+"reviews/", s.handleReview(prefix+"reviews/"))
	mux.HandleFunc(prefix+"agents", s.handleAgents)
	mux.HandleFunc(prefix+"skills", s.handleSkills)
}

// ---------------------------------------------------------------------------
// Engine status and toggles
// ---------------------------------------------------------------------------

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleEngineToggle(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.engine.SetEnabled(enabled)
		writeJSON(w, http.StatusOK, map[string]any{"enabled": enabled})
	}
}

// ---------------------------------------------------------------------------
// Rule CRUD
// ---------------------------------------------------------------------------

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter := automation.ListFilter{Tag: r.URL.Query().Get("tag")}
		if v := r.URL.Query().Get("enabled"); v != "" {
			enabled := v == "true"
			filter.Enabled = &enabled
		}
		writeJSON(w, http.StatusOK, map[string]any{"rules": s.engine.Store().List(filter)})

	case http.MethodPost:
		// Enabled defaults to true when omitted; a freshly created rule
		// should fire, not sit inert behind a forgotten field.
		var body struct {
			automation.Rule
			Enabled *bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid rule body: "+err.Error())
			return
		}
		rule := body.Rule
		rule.Enabled = body.Enabled == nil || *body.Enabled
		created, err := s.engine.Store().Create(&rule)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleRule serves /rules/{id} and /rules/{id}/{action}.
func (s *Server) handleRule(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, action := splitPath(strings.TrimPrefix(r.URL.Path, prefix))
		if id == "" {
			writeError(w, http.StatusBadRequest, "rule id required")
			return
		}

		switch {
		case action == "" && r.Method == http.MethodGet:
			rule, err := s.engine.Store().Get(id)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"rule":  rule,
				"stats": s.engine.History().StatsFor(id),
			})

		case action == "" && (r.Method == http.MethodPatch || r.Method == http.MethodPut):
			var patch automation.RulePatch
			if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
				writeError(w, http.StatusBadRequest, "invalid patch body: "+err.Error())
				return
			}
			updated, err := s.engine.Store().Update(id, &patch)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, updated)

		case action == "" && r.Method == http.MethodDelete:
			if err := s.engine.RemoveRule(id); err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"removed": id})

		case action == "enable" && r.Method == http.MethodPost:
			s.toggleRule(w, id, true)

		case action == "disable" && r.Method == http.MethodPost:
			s.toggleRule(w, id, false)

		case action == "trigger" && r.Method == http.MethodPost:
			s.triggerRule(w, r, id)

		default:
			writeError(w, http.StatusNotFound, "unknown rule endpoint")
		}
	}
}

func (s *Server) toggleRule(w http.ResponseWriter, id string, enabled bool) {
	rule, err := s.engine.SetRuleEnabled(id, enabled)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// triggerRequest is the manual trigger body.
type triggerRequest struct {
	Data   map[string]any `json:"data,omitempty"`
	DryRun bool           `json:"dry_run,omitempty"`
}

func (s *Server) triggerRule(w http.ResponseWriter, r *http.Request, id string) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid trigger body: "+err.Error())
		return
	}

	rec, err := s.engine.Trigger(r.Context(), id, req.Data, req.DryRun)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ---------------------------------------------------------------------------
// Executions
// ---------------------------------------------------------------------------

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	filter := automation.ExecutionFilter{
		RuleID: r.URL.Query().Get("rule"),
		Status: automation.ExecutionStatus(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": s.engine.History().List(filter)})
}

// ---------------------------------------------------------------------------
// Review queue
// ---------------------------------------------------------------------------

func (s *Server) handleReviews(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		items, stats := s.engine.Reviews().List(automation.ReviewStatus(r.URL.Query().Get("status")))
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "stats": stats})

	case http.MethodDelete:
		cleared := s.engine.Reviews().Clear()
		writeJSON(w, http.StatusOK, map[string]any{"cleared": cleared})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// reviewActions maps URL actions to review statuses.
var reviewActions = map[string]automation.ReviewStatus{
	"approve": automation.ReviewApproved,
	"dismiss": automation.ReviewDismissed,
	"flag":    automation.ReviewFlagged,
	"reopen":  automation.ReviewPending,
}

// handleReview serves /reviews/{id}/{action}.
func (s *Server) handleReview(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, action := splitPath(strings.TrimPrefix(r.URL.Path, prefix))
		if id == "" {
			writeError(w, http.StatusBadRequest, "review id required")
			return
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var body struct {
			Notes string `json:"notes,omitempty"`
			URL   string `json:"url,omitempty"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		if action == "issue" {
			item, err := s.engine.Reviews().AttachIssueURL(id, body.URL)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, item)
			return
		}

		status, ok := reviewActions[action]
		if !ok {
			writeError(w, http.StatusNotFound, "unknown review action")
			return
		}
		item, err := s.engine.Reviews().SetStatus(id, status, body.Notes)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

// ---------------------------------------------------------------------------
// Agents and skills
// ---------------------------------------------------------------------------

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"agents":    s.agents.List(),
			"available": s.agents.CountAvailableAgents(),
		})
	case http.MethodPost:
		var agent registry.Agent
		if err := json.NewDecoder(r.Body).Decode(&agent); err != nil {
			writeError(w, http.StatusBadRequest, "invalid agent body: "+err.Error())
			return
		}
		if err := s.agents.Register(&agent); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, agent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSkills(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"skills": s.skills.List()})
	case http.MethodPost:
		var skill registry.Skill
		if err := json.NewDecoder(r.Body).Decode(&skill); err != nil {
			writeError(w, http.StatusBadRequest, "invalid skill body: "+err.Error())
			return
		}
		if err := s.skills.Register(&skill); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, skill)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// splitPath splits "id/action" into its parts; action may be empty.
func splitPath(path string) (id, action string) {
	path = strings.Trim(path, "/")
	if i := strings.Index(path, "/"); i >= 0 {
		return path[:i], path[i+1:]
	}
	return path, ""
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeDomainError maps engine sentinel errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, automation.ErrRuleNotFound), errors.Is(err, automation.ErrReviewNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, automation.ErrInvalidRule), errors.Is(err, automation.ErrRuleExists),
		errors.Is(err, automation.ErrInvalidReviewStatus):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, automation.ErrEngineDisabled):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
