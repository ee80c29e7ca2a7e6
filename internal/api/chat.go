package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/casaviva/hestia/internal/provider"
	"github.com/casaviva/hestia/internal/selector"
	"github.com/casaviva/hestia/internal/session"
	"github.com/casaviva/hestia/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

const defaultExchangeLimit = 20

// Deps holds the handler's collaborators. Store may be nil, in which case
// exchanges are not persisted and the exchanges endpoint is not mounted.
type Deps struct {
	Lister    session.ModelLister
	Sessions  *session.Manager
	Store     *storage.Store
	MaxModels int
	APIToken  string
}

// NewHandler returns the HTTP surface: health, ranked model listing, chat
// dispatch, session inspection, and the token-guarded exchange log.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/v1/models", handleModels(deps))
	r.Post("/v1/chat", handleChat(deps))
	r.Get("/v1/sessions/{id}/history", handleHistory(deps))
	r.Delete("/v1/sessions/{id}", handleDeleteSession(deps))

	if deps.Store != nil && deps.APIToken != "" {
		r.Group(func(g chi.Router) {
			g.Use(BearerAuth(deps.APIToken))
			g.Get("/v1/exchanges", handleExchanges(deps))
		})
	}

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type rankedModel struct {
	ID            string   `json:"id"`
	Score         int      `json:"score"`
	ContextWindow int      `json:"context_window"`
	Capabilities  []string `json:"capabilities,omitempty"`
}

func handleModels(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		catalog, err := deps.Lister.ListModels(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to list models: %v", err)
			return
		}

		ranked, err := selector.CascadeOrder(catalog, deps.MaxModels, time.Now())
		if err != nil {
			var nme *provider.NoModelsError
			if errors.As(err, &nme) {
				httpError(w, http.StatusServiceUnavailable, "api_error", "%v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "ranking models: %v", err)
			return
		}

		out := make([]rankedModel, len(ranked))
		for i, s := range ranked {
			caps := make([]string, len(s.Capabilities))
			for j, c := range s.Capabilities {
				caps[j] = string(c)
			}
			out[i] = rankedModel{
				ID:            s.ID,
				Score:         s.Score,
				ContextWindow: s.ContextWindow,
				Capabilities:  caps,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   out,
		})
	}
}

type chatRequest struct {
	SessionID   string   `json:"session_id,omitempty"`
	Message     string   `json:"message"`
	OneOff      bool     `json:"one_off,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	SessionID string `json:"session_id,omitempty"`
	session.Result
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		opts := provider.ChatOptions{MaxTokens: req.MaxTokens}
		if req.Temperature != nil {
			opts.Temperature = *req.Temperature
		}

		var (
			res       session.Result
			sessionID string
		)
		if req.OneOff {
			res = deps.Sessions.Detached().AskOneOff(r.Context(), req.Message, opts)
		} else {
			var s *session.Session
			s, sessionID = deps.Sessions.GetOrCreate(req.SessionID)
			res = s.Ask(r.Context(), req.Message, opts)
		}

		if res.Success {
			slog.Info("chat dispatched",
				"session_id", sessionID,
				"model", res.ModelID,
				"attempts", res.Attempts,
				"retried", res.Retried,
			)
		} else {
			slog.Warn("chat failed",
				"session_id", sessionID,
				"kind", res.ErrorKind,
				"attempts", res.Attempts,
			)
		}

		recordExchange(deps.Store, sessionID, req.Message, res)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatResponse{SessionID: sessionID, Result: res})
	}
}

// recordExchange appends to the exchange log. Persistence failures are
// logged, not surfaced; the dispatch result already belongs to the caller.
func recordExchange(store *storage.Store, sessionID, prompt string, res session.Result) {
	if store == nil {
		return
	}

	e := storage.Exchange{
		ID:           uuid.New().String(),
		CreatedAt:    time.Now().UTC(),
		SessionID:    sessionID,
		Prompt:       prompt,
		Response:     res.Text,
		ModelID:      res.ModelID,
		AttemptCount: res.Attempts,
		Retried:      res.Retried,
		Status:       "completed",
	}
	if !res.Success {
		e.Status = "failed"
		e.ErrorKind = string(res.ErrorKind)
		if len(res.Failures) > 0 {
			if b, err := json.Marshal(res.Failures); err == nil {
				e.AttemptsJSON = string(b)
			}
		}
	}

	if err := store.SaveExchange(e); err != nil {
		slog.Error("saving exchange", "error", err)
	}
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		s, ok := deps.Sessions.Get(id)
		if !ok {
			httpError(w, http.StatusNotFound, "invalid_request_error", "unknown session: %s", id)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"session_id": id,
			"history":    s.History(),
		})
	}
}

func handleDeleteSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !deps.Sessions.Delete(id) {
			httpError(w, http.StatusNotFound, "invalid_request_error", "unknown session: %s", id)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleExchanges(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultExchangeLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid limit: %q", raw)
				return
			}
			if n > 200 {
				n = 200
			}
			limit = n
		}

		exchanges, err := deps.Store.RecentExchanges(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading exchanges: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   exchanges,
		})
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
