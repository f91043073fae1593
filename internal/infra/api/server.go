package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/deepmindneural/escuchodromo-sub002/internal/domain/model"
	"github.com/deepmindneural/escuchodromo-sub002/internal/domain/ports/repository"
	"github.com/deepmindneural/escuchodromo-sub002/internal/infra/ws"
)

const defaultHistoryLimit = 50

// Server exposes the non-realtime surface: durable history reads, health,
// and metrics. The websocket controller mounts its own route.
type Server struct {
	messages repository.MessageRepository
	wsh      *ws.Handler
	log      *zerolog.Logger
}

func NewServer(messages repository.MessageRepository, wsh *ws.Handler, logger *zerolog.Logger) *Server {
	return &Server{messages: messages, wsh: wsh, log: logger}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(TraceID(s.log), RequestLog(s.log), Recover(s.log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/api/v1/rooms/{roomKey}/messages", s.handleHistory)

	s.wsh.RegisterRoutes(r)
	return r
}

type historyResponse struct {
	Room     string           `json:"room"`
	Messages []*model.Message `json:"messages"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	roomKey := chi.URLParam(r, "roomKey")
	if roomKey == "" {
		http.Error(w, "room key is required", http.StatusBadRequest)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 200 {
			http.Error(w, "limit must be 1..200", http.StatusBadRequest)
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	msgs, err := s.messages.FindRecentByRoom(ctx, roomKey, limit)
	if err != nil {
		s.log.Error().Err(err).Str("room", roomKey).Msg("history read failed")
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []*model.Message{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(historyResponse{Room: roomKey, Messages: msgs})
}
