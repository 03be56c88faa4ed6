package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"microloan-funnel/internal/funnel"
	"microloan-funnel/internal/models"
	"microloan-funnel/internal/service"
	"microloan-funnel/internal/validation"
)

// Conversations is the conversation surface the handler drives.
type Conversations interface {
	Dispatch(ctx context.Context, user models.UserIdentity, in funnel.Input) (funnel.Output, error)
	Conversation(ctx context.Context, userID int64) funnel.Conversation
	Reset(ctx context.Context, userID int64) error
}

// ProfileClearer forgets stored preferences.
type ProfileClearer interface {
	Clear(ctx context.Context, userID int64) error
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	service       *service.Service
	conversations Conversations
	profiles      ProfileClearer
	logger        *zap.Logger
	maxBodySize   int64
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
	Logger      *zap.Logger
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 1 << 20, // 1MB default
		Logger:      zap.NewNop(),
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service, conv Conversations, profiles ProfileClearer) *Handler {
	return NewHandlerWithOptions(svc, conv, profiles, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, conv Conversations, profiles ProfileClearer, opts NewHandlerOptions) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultHandlerOptions().MaxBodySize
	}
	return &Handler{
		service:       svc,
		conversations: conv,
		profiles:      profiles,
		logger:        opts.Logger,
		maxBodySize:   opts.MaxBodySize,
	}
}

// Routes mounts the API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.Health)

	r.Route("/conversations/{user_id}", func(r chi.Router) {
		r.Get("/", h.GetConversation)
		r.Delete("/", h.ResetConversation)
		r.Post("/events", h.PostEvent)
	})

	r.Get("/users/{user_id}/profile", h.GetProfile)
	r.Delete("/users/{user_id}/profile", h.ClearProfile)
	r.Get("/sessions/{session_id}", h.GetSession)

	r.Get("/offers", h.ListOffers)
	r.Get("/offers/{offer_id}", h.GetOffer)
	r.Post("/catalog/reload", h.ReloadCatalog)
	r.Get("/stats", h.GetStats)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// PostEvent handles POST /conversations/{user_id}/events
func (h *Handler) PostEvent(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	// Limit request body size to prevent abuse
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req models.EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	var in funnel.Input
	switch funnel.InputType(req.Type) {
	case funnel.InputChoice:
		in = funnel.Input{Type: funnel.InputChoice, Data: req.Data}
	case funnel.InputText:
		text := req.Text
		if text == "" {
			text = req.Data
		}
		in = funnel.Input{Type: funnel.InputText, Data: text}
	default:
		h.respondError(w, http.StatusBadRequest, "type must be 'choice' or 'text'")
		return
	}

	user := models.UserIdentity{
		UserID:    userID,
		Username:  validation.SanitizeString(req.Username),
		FirstName: validation.SanitizeString(req.FirstName),
	}

	out, err := h.conversations.Dispatch(r.Context(), user, in)
	if err != nil {
		h.logger.Warn("dispatch aborted", zap.Int64("user_id", userID), zap.Error(err))
		h.respondError(w, http.StatusServiceUnavailable, "request cancelled")
		return
	}

	h.respondJSON(w, http.StatusOK, out)
}

// GetConversation handles GET /conversations/{user_id}
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, h.conversations.Conversation(r.Context(), userID))
}

// ResetConversation handles DELETE /conversations/{user_id}
func (h *Handler) ResetConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	if err := h.conversations.Reset(r.Context(), userID); err != nil {
		h.internalError(w, "failed to reset conversation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetProfile handles GET /users/{user_id}/profile
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	resp, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// ClearProfile handles DELETE /users/{user_id}/profile
func (h *Handler) ClearProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	if err := h.profiles.Clear(r.Context(), userID); err != nil {
		h.internalError(w, "failed to clear profile", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSession handles GET /sessions/{session_id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.GetSession(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, session)
}

// ListOffers handles GET /offers?active=true
func (h *Handler) ListOffers(w http.ResponseWriter, r *http.Request) {
	activeOnly := false
	if v := r.URL.Query().Get("active"); v != "" {
		parsed, err := strconv.ParseBool(validation.SanitizeString(v))
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid 'active' parameter, must be a boolean")
			return
		}
		activeOnly = parsed
	}
	h.respondJSON(w, http.StatusOK, h.service.ListOffers(activeOnly))
}

// GetOffer handles GET /offers/{offer_id}
func (h *Handler) GetOffer(w http.ResponseWriter, r *http.Request) {
	offer, err := h.service.GetOffer(chi.URLParam(r, "offer_id"))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, offer)
}

// ReloadCatalog handles POST /catalog/reload
func (h *Handler) ReloadCatalog(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.ReloadCatalog(r.Context())
	if errors.Is(err, service.ErrReloadUnsupported) {
		h.respondError(w, http.StatusNotImplemented, err.Error())
		return
	}
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// GetStats handles GET /stats?days=7
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(validation.SanitizeString(v))
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid 'days' parameter, must be an integer")
			return
		}
		days = parsed
	}

	summary, err := h.service.Stats(r.Context(), days)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, summary)
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := validation.ParseUserID(chi.URLParam(r, "user_id"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return id, true
}

// serviceError maps service errors to status codes.
func (h *Handler) serviceError(w http.ResponseWriter, err error) {
	var verr *validation.ValidationError
	switch {
	case errors.Is(err, service.ErrNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &verr):
		h.respondError(w, http.StatusBadRequest, err.Error())
	default:
		h.internalError(w, "request failed", err)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, zap.Error(err))
	h.respondError(w, http.StatusInternalServerError, "internal server error")
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
