package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sahuti/autoreply/internal/middleware"
	"github.com/sahuti/autoreply/internal/model"
	"github.com/sahuti/autoreply/internal/service"
	"github.com/sahuti/autoreply/internal/store"
	"github.com/sahuti/autoreply/pkg/logger"
)

// AdminHandler handles the operator API.
type AdminHandler struct {
	admin  *service.Admin
	logger *logger.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(admin *service.Admin, log *logger.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, logger: log.Named("admin")}
}

type businessResponse struct {
	*model.Business
	WhatsAppConnected bool `json:"whatsapp_connected"`
	CanSendMessages   bool `json:"can_send_messages"`
	OnboardingLocked  bool `json:"onboarding_locked"`
}

func toBusinessResponse(b *model.Business) businessResponse {
	return businessResponse{
		Business:          b,
		WhatsAppConnected: b.IsWhatsAppConnected(),
		CanSendMessages:   b.CanSendMessages(),
		OnboardingLocked:  b.IsOnboardingLocked(),
	}
}

type llmToggleRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type manualReplyRequest struct {
	To      string `json:"to" validate:"required"`
	Message string `json:"message" validate:"required"`
}

// ListBusinesses handles GET /api/admin/businesses
func (h *AdminHandler) ListBusinesses(w http.ResponseWriter, r *http.Request) {
	businesses, err := h.admin.ListBusinesses(r.Context())
	if err != nil {
		h.logger.Error("failed to list businesses", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list businesses")
		return
	}

	resp := make([]businessResponse, 0, len(businesses))
	for i := range businesses {
		resp = append(resp, toBusinessResponse(&businesses[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"businesses": resp})
}

// GetBusiness handles GET /api/admin/businesses/{id}
func (h *AdminHandler) GetBusiness(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid business id")
		return
	}
	b, err := h.admin.GetBusiness(r.Context(), id)
	if err != nil {
		h.fail(w, err, "failed to get business")
		return
	}
	writeJSON(w, http.StatusOK, toBusinessResponse(b))
}

// UpdateCredentials handles PUT /api/admin/businesses/{id}/whatsapp
func (h *AdminHandler) UpdateCredentials(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid business id")
		return
	}

	var req service.CredentialsInput
	if !decode(w, r, &req) {
		return
	}

	b, err := h.admin.UpdateCredentials(r.Context(), id, req)
	if err != nil {
		h.fail(w, err, "failed to update credentials")
		return
	}
	h.logger.Info("credentials updated", zap.Int64("business_id", id), zap.String("subject", middleware.GetSubject(r.Context())))
	writeJSON(w, http.StatusOK, toBusinessResponse(b))
}

// Disconnect handles DELETE /api/admin/businesses/{id}/whatsapp
func (h *AdminHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid business id")
		return
	}
	b, err := h.admin.Disconnect(r.Context(), id)
	if err != nil {
		h.fail(w, err, "failed to disconnect")
		return
	}
	writeJSON(w, http.StatusOK, toBusinessResponse(b))
}

// ResetOnboarding handles POST /api/admin/businesses/{id}/onboarding/reset
func (h *AdminHandler) ResetOnboarding(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid business id")
		return
	}
	b, err := h.admin.ResetOnboarding(r.Context(), id)
	if err != nil {
		h.fail(w, err, "failed to reset onboarding")
		return
	}
	writeJSON(w, http.StatusOK, toBusinessResponse(b))
}

// SetLLM handles PUT /api/admin/businesses/{id}/llm
func (h *AdminHandler) SetLLM(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid business id")
		return
	}
	var req llmToggleRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.admin.SetLLMEnabled(r.Context(), id, *req.Enabled)
	if err != nil {
		h.fail(w, err, "failed to update llm setting")
		return
	}
	writeJSON(w, http.StatusOK, toBusinessResponse(b))
}

// SendReply handles POST /api/admin/businesses/{id}/replies
func (h *AdminHandler) SendReply(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid business id")
		return
	}
	var req manualReplyRequest
	if !decode(w, r, &req) {
		return
	}
	if err := middleware.ValidatePhone(req.To); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := middleware.ValidateMessageContent(req.Message); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	reply, err := h.admin.SendManualReply(r.Context(), id, req.To, req.Message)
	if err != nil {
		h.fail(w, err, "failed to send reply")
		return
	}
	writeJSON(w, http.StatusCreated, reply)
}

// ResumeAutoReplies handles DELETE /api/admin/pauses/{phone}
func (h *AdminHandler) ResumeAutoReplies(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")
	if err := middleware.ValidatePhone(phone); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.admin.ResumeAutoReplies(r.Context(), phone); err != nil {
		h.fail(w, err, "failed to resume auto-replies")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListLogs handles GET /api/admin/businesses/{id}/logs
func (h *AdminHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid business id")
		return
	}
	logs, err := h.admin.ListLogs(r.Context(), id, queryInt(r, "limit", 50))
	if err != nil {
		h.fail(w, err, "failed to list logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

// ListMessages handles GET /api/admin/conversations/{phone}/messages
func (h *AdminHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")
	if err := middleware.ValidatePhone(phone); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	messages, err := h.admin.ListMessages(r.Context(), phone, queryInt(r, "limit", 50))
	if err != nil {
		h.fail(w, err, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// ListEvents handles GET /api/admin/businesses/{id}/events
func (h *AdminHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid business id")
		return
	}
	var after uint64
	if v := r.URL.Query().Get("after"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after sequence")
			return
		}
		after = parsed
	}

	events, last, err := h.admin.RecentEvents(r.Context(), id, after, queryInt(r, "limit", 50))
	if err != nil {
		h.fail(w, err, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "last_sequence": last})
}

// fail maps service errors onto HTTP statuses.
func (h *AdminHandler) fail(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "business not found")
	case errors.Is(err, service.ErrPhoneNumberIDInUse):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrEventsDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case isDispatchError(err):
		h.logger.Warn(message, zap.Error(err))
		writeError(w, http.StatusBadGateway, message)
	default:
		h.logger.Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message)
	}
}

func isDispatchError(err error) bool {
	return errors.Is(err, service.ErrSendFailed) || errors.Is(err, service.ErrNoCredentials)
}

// decode reads and validates a JSON body, writing the error response itself.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := middleware.ValidateStruct(dst); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return false
	}
	return true
}
