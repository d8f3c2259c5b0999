package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/hitoshi/mandapadmin/internal/model"
)

// NotificationServiceInterface は通知ハンドラーが必要とするサービスインターフェース。
type NotificationServiceInterface interface {
	List(ctx context.Context, unreadOnly bool) ([]*model.Notification, error)
	Summary(ctx context.Context) (*model.NotificationSummary, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context, adminID string) (*model.MarkAllResult, error)
}

// NotificationHandler は管理者向け通知のHTTPハンドラー。
type NotificationHandler struct {
	service NotificationServiceInterface
}

// NewNotificationHandler はNotificationHandlerを生成する。
func NewNotificationHandler(service NotificationServiceInterface) *NotificationHandler {
	return &NotificationHandler{service: service}
}

type markReadRequest struct {
	NotificationID string `json:"notificationId"`
}

type markReadResponse struct {
	NotificationID string `json:"notificationId"`
	Read           bool   `json:"read"`
}

// List は通知を新しい順に返す。
// GET /admin/notifications?unread=true
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	unreadOnly := false
	if v := r.URL.Query().Get("unread"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			handleServiceError(w, model.NewValidationError(map[string]string{"unread": "true または false を指定してください。"}))
			return
		}
		unreadOnly = parsed
	}

	list, err := h.service.List(r.Context(), unreadOnly)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if list == nil {
		list = []*model.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}

// Summary は通知件数の集計を返す。
// GET /admin/notifications/summary
func (h *NotificationHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// MarkRead は通知を既読にする。既読済みの通知に対しても成功を返す。
// POST /admin/notifications/mark-read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeInvalidBody(w)
		return
	}

	if err := h.service.MarkRead(r.Context(), req.NotificationID); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, markReadResponse{NotificationID: req.NotificationID, Read: true})
}

// MarkAllRead は未読通知をすべて既読にする。
// 一部が失敗した場合も更新済みと失敗したIDを返す。
// POST /admin/notifications/mark-all-read
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	adminID, ok := requireAdminID(w, r)
	if !ok {
		return
	}

	result, err := h.service.MarkAllRead(r.Context(), adminID)
	if err != nil && result == nil {
		handleServiceError(w, err)
		return
	}
	if err != nil {
		// 部分的な完了は207で結果と共に返す
		writeJSON(w, http.StatusMultiStatus, result)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
