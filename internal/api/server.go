package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"beacon/internal/notify"
	"beacon/pkg/interfaces"
	"beacon/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the REST boundary through which the rest of the system
// triggers notifications and reads connection statistics. It holds no
// business logic: handlers validate, shape an event, and delegate to the
// notifier. Delivery acknowledgments are always successful regardless of
// how many connections were reachable; the delivered count is included for
// observability only.
type Server struct {
	notifier  *notify.Notifier
	directory interfaces.UserDirectory
	router    chi.Router
}

// NewServer creates the API server and mounts its routes.
func NewServer(notifier *notify.Notifier, directory interfaces.UserDirectory) *Server {
	s := &Server{
		notifier:  notifier,
		directory: directory,
		router:    chi.NewRouter(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(corsMiddleware)
	s.router.Use(jsonMiddleware)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/notify", func(r chi.Router) {
			r.Post("/broadcast", s.notifyBroadcast)
			r.Post("/role/{role}", s.notifyRole)
			r.Post("/user/{id}", s.notifyUser)
			r.Post("/channel/{channel}", s.notifyChannel)
			r.Post("/order-created", s.notifyOrderCreated)
			r.Post("/user-registered", s.notifyUserRegistered)
			r.Post("/low-stock", s.notifyLowStock)
			r.Post("/payment-status", s.notifyPaymentStatus)
		})
		r.Get("/connections/stats", s.connectionStats)
	})
	s.router.Get("/health", s.healthCheck)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// NotifyRequest is the body for the generic notification endpoints.
type NotifyRequest struct {
	Category string          `json:"category"`
	Message  string          `json:"message"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// PaymentStatusRequest carries a payment update for one user.
type PaymentStatusRequest struct {
	UserID  string          `json:"user_id"`
	Payment json.RawMessage `json:"payment"`
}

// DeliveryResponse acknowledges a notification request.
type DeliveryResponse struct {
	Message   string `json:"message"`
	Delivered int    `json:"delivered"`
}

// StatsResponse reports connection counts.
type StatsResponse struct {
	Total  int `json:"total"`
	Admins int `json:"admins"`
	Users  int `json:"users"`
}

// HealthResponse reports component health.
type HealthResponse struct {
	Status      string        `json:"status"`
	Timestamp   time.Time     `json:"timestamp"`
	Database    string        `json:"database"`
	Connections StatsResponse `json:"connections"`
}

// ErrorResponse is the consistent error body for every endpoint.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// decodeNotifyRequest parses and validates the generic notification body.
func (s *Server) decodeNotifyRequest(w http.ResponseWriter, r *http.Request) (*NotifyRequest, bool) {
	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return nil, false
	}
	if req.Message == "" {
		s.sendError(w, "Message is required", http.StatusBadRequest)
		return nil, false
	}
	if !types.IsValidCategory(req.Category) {
		s.sendError(w, "Invalid category: must be order, user, inventory or payment", http.StatusBadRequest)
		return nil, false
	}
	return &req, true
}

// POST /api/notify/broadcast
func (s *Server) notifyBroadcast(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeNotifyRequest(w, r)
	if !ok {
		return
	}

	event := types.NewNotificationEvent(req.Category, req.Message, req.Data)
	s.acknowledge(w, s.notifier.BroadcastAll(event))
}

// POST /api/notify/role/{role}
func (s *Server) notifyRole(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	if !types.IsValidRole(role) {
		s.sendError(w, types.ErrInvalidRole.Error(), http.StatusBadRequest)
		return
	}

	req, ok := s.decodeNotifyRequest(w, r)
	if !ok {
		return
	}

	event := types.NewNotificationEvent(req.Category, req.Message, req.Data)
	s.acknowledge(w, s.notifier.SendToRole(role, event))
}

// POST /api/notify/user/{id}
func (s *Server) notifyUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if !types.IsValidUserID(userID) {
		s.sendError(w, types.ErrInvalidUserID.Error(), http.StatusBadRequest)
		return
	}

	req, ok := s.decodeNotifyRequest(w, r)
	if !ok {
		return
	}

	event := types.NewNotificationEvent(req.Category, req.Message, req.Data)
	s.acknowledge(w, s.notifier.SendToUser(userID, event))
}

// POST /api/notify/channel/{channel}
func (s *Server) notifyChannel(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	if !types.IsValidTopic(channel) {
		s.sendError(w, types.ErrInvalidTopic.Error(), http.StatusBadRequest)
		return
	}

	req, ok := s.decodeNotifyRequest(w, r)
	if !ok {
		return
	}

	event := types.NewNotificationEvent(req.Category, req.Message, req.Data)
	s.acknowledge(w, s.notifier.SendToChannel(channel, event))
}

// POST /api/notify/order-created. The body is the order payload itself.
func (s *Server) notifyOrderCreated(w http.ResponseWriter, r *http.Request) {
	payload, ok := s.decodePayload(w, r)
	if !ok {
		return
	}
	s.acknowledge(w, s.notifier.OrderCreated(payload))
}

// POST /api/notify/user-registered. The body is the user payload itself.
func (s *Server) notifyUserRegistered(w http.ResponseWriter, r *http.Request) {
	payload, ok := s.decodePayload(w, r)
	if !ok {
		return
	}
	s.acknowledge(w, s.notifier.UserRegistered(payload))
}

// POST /api/notify/low-stock. The body is the product payload itself.
func (s *Server) notifyLowStock(w http.ResponseWriter, r *http.Request) {
	payload, ok := s.decodePayload(w, r)
	if !ok {
		return
	}
	s.acknowledge(w, s.notifier.LowStock(payload))
}

// POST /api/notify/payment-status
func (s *Server) notifyPaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req PaymentStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if !types.IsValidUserID(req.UserID) {
		s.sendError(w, types.ErrInvalidUserID.Error(), http.StatusBadRequest)
		return
	}

	s.acknowledge(w, s.notifier.PaymentStatus(req.UserID, req.Payment))
}

// GET /api/connections/stats
func (s *Server) connectionStats(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(s.stats())
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"

	if s.directory != nil {
		if err := s.directory.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			dbStatus = fmt.Sprintf("error: %v", err)
		}
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.stats(),
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

func (s *Server) stats() StatsResponse {
	return StatsResponse{
		Total:  s.notifier.ConnectionCount(),
		Admins: s.notifier.ConnectionCountByRole(types.RoleAdmin),
		Users:  s.notifier.ConnectionCountByRole(types.RoleUser),
	}
}

// acknowledge reports success regardless of the recipient count; delivery
// is best-effort and not confirmed end-to-end.
func (s *Server) acknowledge(w http.ResponseWriter, delivered int) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(DeliveryResponse{
		Message:   "Notification sent",
		Delivered: delivered,
	})
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// corsMiddleware allows web clients from any origin; origin restrictions
// belong to the deployment proxy.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// jsonMiddleware sets the JSON content type for all API responses.
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// decodePayload reads an arbitrary JSON body for the domain wrapper
// endpoints, which forward it opaquely as the event data.
func (s *Server) decodePayload(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	var payload json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return nil, false
	}
	return payload, true
}
