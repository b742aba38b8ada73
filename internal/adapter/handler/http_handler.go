package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator"

	"github.com/genpire/rfq-service/internal/adapter/paypal"
	"github.com/genpire/rfq-service/internal/core/domain"
	"github.com/genpire/rfq-service/internal/core/service"
	"github.com/genpire/rfq-service/internal/logging"
)

var validate = validator.New()

type HTTPHandler struct {
	rfqService     *service.RFQService
	sessions       *service.SessionRegistry
	paymentService *service.PaymentService
}

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Warning string `json:"warning,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type QuoteStatusHTTPRequest struct {
	RequestID        string `json:"request_id"`
	Status           string `json:"status" validate:"required"`
	NotifyReceiverID string `json:"notify_receiver_id"`
}

type SendDraftHTTPRequest struct {
	RequestID  string `json:"request_id"`
	Status     string `json:"status" validate:"required"`
	ReceiverID string `json:"receiver_id"`
	Title      string `json:"title"`
}

type CreateOrderHTTPRequest struct {
	Amount      string `json:"amount" validate:"required"`
	Currency    string `json:"currency" validate:"omitempty,len=3"`
	Description string `json:"description"`
}

type CreateSubscriptionHTTPRequest struct {
	PlanID string `json:"plan_id" validate:"required"`
}

type CancelSubscriptionHTTPRequest struct {
	SubscriptionID string `json:"subscription_id"`
	Reason         string `json:"reason"`
}

type CheckoutHTTPResponse struct {
	ID         string `json:"id"`
	ApproveURL string `json:"approve_url,omitempty"`
}

type CancelHTTPResponse struct {
	Success   bool      `json:"success"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewHTTPHandler(rfqService *service.RFQService, sessions *service.SessionRegistry, paymentService *service.PaymentService) *HTTPHandler {
	return &HTTPHandler{
		rfqService:     rfqService,
		sessions:       sessions,
		paymentService: paymentService,
	}
}

// Routes registers every endpoint; all but /health require auth.
func (h *HTTPHandler) Routes(auth *Authenticator) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HealthCheck)

	protected := http.NewServeMux()
	protected.HandleFunc("GET /api/rfqs", h.ListRFQs)
	protected.HandleFunc("POST /api/rfqs/refresh", h.RefreshRFQs)
	protected.HandleFunc("POST /api/rfqs/{rfqID}/send", h.SendDraft)
	protected.HandleFunc("POST /api/rfqs/{rfqID}/suppliers/{supplierID}/status", h.UpdateQuoteStatus)
	protected.HandleFunc("POST /api/sessions", h.StartSession)
	protected.HandleFunc("DELETE /api/sessions", h.StopSession)
	protected.HandleFunc("POST /api/payments/orders", h.CreateOrder)
	protected.HandleFunc("POST /api/payments/subscriptions", h.CreateSubscription)
	protected.HandleFunc("POST /api/payments/subscriptions/cancel", h.CancelSubscription)
	mux.Handle("/api/", auth.Middleware(protected))

	return mux
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) ListRFQs(w http.ResponseWriter, r *http.Request) {
	list, err := h.rfqService.Fetch(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "ok", Data: nonNil(list)})
}

func (h *HTTPHandler) RefreshRFQs(w http.ResponseWriter, r *http.Request) {
	list, err := h.rfqService.Refresh(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "refreshed", Data: nonNil(list)})
}

func (h *HTTPHandler) UpdateQuoteStatus(w http.ResponseWriter, r *http.Request) {
	var req QuoteStatusHTTPRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	status, err := domain.ParseQuoteStatus(req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.rfqService.AcceptOrDecline(r.Context(), service.AcceptOrDeclineInput{
		RequestID:        req.RequestID,
		RFQID:            r.PathValue("rfqID"),
		SupplierID:       r.PathValue("supplierID"),
		Status:           status,
		ActorID:          UserIDFromContext(r.Context()),
		NotifyReceiverID: req.NotifyReceiverID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse(result))
}

func (h *HTTPHandler) SendDraft(w http.ResponseWriter, r *http.Request) {
	var req SendDraftHTTPRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	status, err := domain.ParseRFQStatus(req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.rfqService.SendDraft(r.Context(), service.SendDraftInput{
		RequestID:  req.RequestID,
		RFQID:      r.PathValue("rfqID"),
		Status:     status,
		SenderID:   UserIDFromContext(r.Context()),
		ReceiverID: req.ReceiverID,
		Title:      req.Title,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse(result))
}

func (h *HTTPHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Start(r.Context(), UserIDFromContext(r.Context())); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "session started"})
}

func (h *HTTPHandler) StopSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Stop(r.Context(), UserIDFromContext(r.Context())); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "session stopped"})
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderHTTPRequest
	if !decodePayment(w, r, &req) {
		return
	}
	order, err := h.paymentService.CreateOrder(r.Context(), UserIDFromContext(r.Context()),
		req.Amount, req.Currency, req.Description)
	if err != nil {
		h.writePaymentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CheckoutHTTPResponse{ID: order.ID, ApproveURL: order.ApproveURL})
}

func (h *HTTPHandler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req CreateSubscriptionHTTPRequest
	if !decodePayment(w, r, &req) {
		return
	}
	sub, err := h.paymentService.CreateSubscription(r.Context(), UserIDFromContext(r.Context()), req.PlanID)
	if err != nil {
		h.writePaymentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CheckoutHTTPResponse{ID: sub.ID, ApproveURL: sub.ApproveURL})
}

func (h *HTTPHandler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	var req CancelSubscriptionHTTPRequest
	if !decodePayment(w, r, &req) {
		return
	}
	expiresAt, err := h.paymentService.CancelSubscription(r.Context(), UserIDFromContext(r.Context()),
		req.SubscriptionID, req.Reason)
	if err != nil {
		h.writePaymentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CancelHTTPResponse{Success: true, ExpiresAt: expiresAt})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, Response{Success: false, Message: message})
}

func (h *HTTPHandler) writePaymentError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("payment request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: message})
}

func statusFor(err error) (int, string) {
	var apiErr *paypal.APIError
	switch {
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrUnknownStatus):
		return http.StatusUnprocessableEntity, "invalid status transition"
	case errors.Is(err, domain.ErrQuoteFinalized):
		return http.StatusConflict, "quote already finalized"
	case errors.Is(err, service.ErrDuplicateRequest):
		return http.StatusConflict, "duplicate request"
	case errors.Is(err, service.ErrRFQNotFound):
		return http.StatusNotFound, "rfq not found"
	case errors.Is(err, service.ErrQuoteNotFound):
		return http.StatusNotFound, "quote not found"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, service.ErrRegistryClosed):
		return http.StatusServiceUnavailable, "shutting down"
	case errors.Is(err, service.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid amount"
	case errors.Is(err, service.ErrSubscriptionNotFound):
		return http.StatusNotFound, "subscription not found"
	case errors.Is(err, service.ErrSubscriptionCancelled):
		return http.StatusConflict, "subscription already canceled"
	case errors.Is(err, service.ErrServerConfig):
		return http.StatusInternalServerError, service.ErrServerConfig.Error()
	case errors.As(err, &apiErr):
		return http.StatusBadGateway, apiErr.Message
	case errors.Is(err, service.ErrCreatorRequired):
		return http.StatusBadRequest, "creator id required"
	case errors.Is(err, service.ErrCacheUnavailable):
		return http.StatusServiceUnavailable, "rfq cache unavailable"
	case errors.Is(err, service.ErrGatewayUnavailable):
		return http.StatusBadGateway, "rfq gateway unavailable"
	case errors.Is(err, service.ErrUpdateFailed):
		return http.StatusInternalServerError, service.ErrUpdateFailed.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func mutationResponse(result service.MutationResult) Response {
	return Response{
		Success: true,
		Message: "status updated",
		Warning: result.Warning,
		Data:    result,
	}
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, Response{Message: "invalid request body"})
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Message: "missing required fields"})
		return false
	}
	return true
}

func decodePayment(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing required fields"})
		return false
	}
	return true
}

func nonNil(list []domain.RFQ) []domain.RFQ {
	if list == nil {
		return []domain.RFQ{}
	}
	return list
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
