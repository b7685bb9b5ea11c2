package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"eats-partner-core/internal/application"
	"eats-partner-core/internal/domain"
	"eats-partner-core/internal/infrastructure/ubereats"
	"eats-partner-core/internal/ports"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Server wires the application services to the HTTP surface.
type Server struct {
	webhooks *application.WebhookService
	orders   *application.OrderService
	tokens   *application.TokenService
	gateway  *application.PartnerGateway
	broker   ports.EventBroker
	logger   zerolog.Logger
}

func NewServer(
	webhooks *application.WebhookService,
	orders *application.OrderService,
	tokens *application.TokenService,
	gateway *application.PartnerGateway,
	broker ports.EventBroker,
	logger zerolog.Logger,
) *Server {
	return &Server{
		webhooks: webhooks,
		orders:   orders,
		tokens:   tokens,
		gateway:  gateway,
		broker:   broker,
		logger:   logger,
	}
}

// Routes mounts every endpoint on the given router.
func (s *Server) Routes(r chi.Router) {
	r.Post("/webhooks/ubereats", s.handleWebhook)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/events", s.handleListEvents)
		r.Get("/events/stream", s.handleEventStream)
		r.Get("/events/{id}", s.handleGetEvent)
		r.Post("/events/{id}/retry", s.handleRetryEvent)

		r.Get("/orders", s.handleListOrders)
		r.Get("/orders/{id}", s.handleGetOrder)
		r.Post("/orders/{id}/accept", s.handleAcceptOrder)
		r.Post("/orders/{id}/deny", s.handleDenyOrder)
		r.Post("/orders/{id}/ready", s.handleReadyOrder)
		r.Post("/orders/{id}/cancel", s.handleCancelOrder)
		r.Post("/orders/{id}/resolve", s.handleResolveIssue)

		r.Post("/orders/{id}/delivery/quote", s.handleQuoteDelivery)
		r.Post("/orders/{id}/delivery", s.handleCreateDelivery)

		r.Post("/auth/refresh", s.handleRefreshToken)
		r.Post("/auth/revoke", s.handleRevokeToken)
		r.Get("/auth/introspect", s.handleIntrospectToken)
	})
}

// handleWebhook is the single inbound endpoint for partner deliveries.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	result, err := s.webhooks.Ingest(r.Context(),
		body,
		r.Header.Get(ubereats.SignatureHeader),
		r.Header.Get(ubereats.TimestampHeader),
	)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"received": true,
		"event_id": result.EventID,
	})
}

// Event operator API

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	filter := ports.EventListFilter{
		Status: domain.EventStatus(r.URL.Query().Get("status")),
		Type:   domain.EventType(r.URL.Query().Get("type")),
		Limit:  queryInt(r, "limit", 50),
	}

	events, err := s.webhooks.ListEvents(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := s.webhooks.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleRetryEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ResetAttempts bool `json:"reset_attempts"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	event, err := s.webhooks.RetryEvent(r.Context(), chi.URLParam(r, "id"), req.ResetAttempts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, event)
}

// handleEventStream pushes processed-event and order notifications over
// server-sent events until the client disconnects.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events := s.broker.Subscribe(ports.TopicEvents)
	orders := s.broker.Subscribe(ports.TopicOrders)
	defer s.broker.Unsubscribe(ports.TopicEvents, events)
	defer s.broker.Unsubscribe(ports.TopicOrders, orders)

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case evt, open := <-events:
			if !open {
				return
			}
			s.writeSSE(w, flusher, evt)
		case evt, open := <-orders:
			if !open {
				return
			}
			s.writeSSE(w, flusher, evt)
		}
	}
}

func (s *Server) writeSSE(w http.ResponseWriter, flusher http.Flusher, evt domain.StreamEvent) {
	raw, err := json.Marshal(evt)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, raw)
	flusher.Flush()
}

// Order operator API

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.orders.List(r.Context(),
		domain.OrderStatus(r.URL.Query().Get("status")),
		queryInt(r, "limit", 50),
	)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"orders": orders, "count": len(orders)})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleAcceptOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ETAMinutes int    `json:"eta_minutes"`
		Details    string `json:"details"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	order, err := s.orders.Accept(r.Context(), chi.URLParam(r, "id"), req.ETAMinutes, req.Details)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleDenyOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason  string `json:"reason"`
		Details string `json:"details"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	reason := domain.CancelReason(req.Reason)
	if reason == "" {
		reason = domain.CancelMerchantRejected
	}

	order, err := s.orders.Deny(r.Context(), chi.URLParam(r, "id"), reason, req.Details)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleReadyOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.orders.MarkReady(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason  string `json:"reason"`
		Details string `json:"details"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	reason := domain.CancelReason(req.Reason)
	if reason == "" {
		reason = domain.CancelOther
	}

	order, err := s.orders.Cancel(r.Context(), chi.URLParam(r, "id"), reason, req.Details)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleResolveIssue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Unrecoverable bool `json:"unrecoverable"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	order, err := s.orders.ResolveIssue(r.Context(), chi.URLParam(r, "id"), req.Unrecoverable)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

// Delivery API

func (s *Server) handleQuoteDelivery(w http.ResponseWriter, r *http.Request) {
	quote, err := s.gateway.QuoteDelivery(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleCreateDelivery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QuoteID string `json:"quote_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.QuoteID == "" {
		s.writeError(w, &domain.ValidationError{Field: "quote_id", Reason: "required"})
		return
	}

	delivery, err := s.gateway.CreateDelivery(r.Context(), chi.URLParam(r, "id"), req.QuoteID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, delivery)
}

// Auth API

func (s *Server) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	if err := s.tokens.Refresh(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

func (s *Server) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	if err := s.tokens.Revoke(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) handleIntrospectToken(w http.ResponseWriter, r *http.Request) {
	intro, err := s.tokens.Introspect(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, intro)
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		authErr       *domain.AuthError
		validationErr *domain.ValidationError
		illegalErr    *domain.IllegalTransitionError
		tokenErr      *domain.TokenExpiredError
		unknownErr    *domain.UnknownEventTypeError
	)

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &authErr), errors.As(err, &tokenErr):
		status = http.StatusUnauthorized
	case errors.As(err, &validationErr), errors.As(err, &unknownErr):
		status = http.StatusBadRequest
	case errors.As(err, &illegalErr):
		status = http.StatusConflict
	case errors.Is(err, ports.ErrNotFound):
		status = http.StatusNotFound
	case domain.IsTransient(err):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("Request failed")
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
