package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/mandapadmin/internal/approval"
	"github.com/hitoshi/mandapadmin/internal/model"
)

// ApprovalServiceInterface は承認ハンドラーが必要とするサービスインターフェース。
type ApprovalServiceInterface interface {
	RegisterProvider(ctx context.Context, in approval.ProviderInput) (*approval.Registration, error)
	Decide(ctx context.Context, requestID string, outcome model.ApprovalStatus, adminID string) (*model.ApprovalDecision, error)
	List(ctx context.Context, status string) ([]model.ApprovalRequestWithProvider, error)
}

// ApprovalHandler はプロバイダー登録と承認判断のHTTPハンドラー。
type ApprovalHandler struct {
	service ApprovalServiceInterface
}

// NewApprovalHandler はApprovalHandlerを生成する。
func NewApprovalHandler(service ApprovalServiceInterface) *ApprovalHandler {
	return &ApprovalHandler{service: service}
}

type decideRequest struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
}

// AddProvider はプロバイダーを登録し、保留中の承認リクエストを作成する。
// POST /admin/add-provider
func (h *ApprovalHandler) AddProvider(w http.ResponseWriter, r *http.Request) {
	var req approval.ProviderInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeInvalidBody(w)
		return
	}

	reg, err := h.service.RegisterProvider(r.Context(), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, reg)
}

// ListRequests は承認リクエストの一覧を返す。
// GET /admin/approval-requests?status=pending
func (h *ApprovalHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if list == nil {
		list = []model.ApprovalRequestWithProvider{}
	}
	writeJSON(w, http.StatusOK, list)
}

// Decide は保留中の承認リクエストを承認または却下する。
// POST /admin/approve-request
func (h *ApprovalHandler) Decide(w http.ResponseWriter, r *http.Request) {
	adminID, ok := requireAdminID(w, r)
	if !ok {
		return
	}

	var req decideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeInvalidBody(w)
		return
	}

	decision, err := h.service.Decide(r.Context(), req.RequestID, model.ApprovalStatus(req.Status), adminID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, decision)
}
