package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/mandapadmin/internal/account"
	"github.com/hitoshi/mandapadmin/internal/approval"
	"github.com/hitoshi/mandapadmin/internal/auth"
	"github.com/hitoshi/mandapadmin/internal/middleware"
	"github.com/hitoshi/mandapadmin/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	signupFn          func(ctx context.Context, in auth.SignupInput) (*model.Admin, error)
	loginFn           func(ctx context.Context, email, password string) (*model.Session, *model.Admin, error)
	logoutFn          func(ctx context.Context, sessionID string) error
	getCurrentAdminFn func(ctx context.Context, adminID string) (*model.Admin, error)
}

func (m *mockAuthService) Signup(ctx context.Context, in auth.SignupInput) (*model.Admin, error) {
	if m.signupFn != nil {
		return m.signupFn(ctx, in)
	}
	return nil, nil
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*model.Session, *model.Admin, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) GetCurrentAdmin(ctx context.Context, adminID string) (*model.Admin, error) {
	if m.getCurrentAdminFn != nil {
		return m.getCurrentAdminFn(ctx, adminID)
	}
	return nil, nil
}

type mockAccountService struct {
	addUserFn         func(ctx context.Context, in account.UserInput) (*model.User, error)
	listUsersFn       func(ctx context.Context) ([]*model.User, error)
	listProvidersFn   func(ctx context.Context) ([]*model.Provider, error)
	searchUsersFn     func(ctx context.Context, query string) ([]*model.User, error)
	searchProvidersFn func(ctx context.Context, query string) ([]*model.Provider, error)
	statsFn           func(ctx context.Context) (*model.AccountStats, error)
}

func (m *mockAccountService) AddUser(ctx context.Context, in account.UserInput) (*model.User, error) {
	if m.addUserFn != nil {
		return m.addUserFn(ctx, in)
	}
	return nil, nil
}

func (m *mockAccountService) ListUsers(ctx context.Context) ([]*model.User, error) {
	if m.listUsersFn != nil {
		return m.listUsersFn(ctx)
	}
	return nil, nil
}

func (m *mockAccountService) ListProviders(ctx context.Context) ([]*model.Provider, error) {
	if m.listProvidersFn != nil {
		return m.listProvidersFn(ctx)
	}
	return nil, nil
}

func (m *mockAccountService) SearchUsers(ctx context.Context, query string) ([]*model.User, error) {
	if m.searchUsersFn != nil {
		return m.searchUsersFn(ctx, query)
	}
	return nil, nil
}

func (m *mockAccountService) SearchProviders(ctx context.Context, query string) ([]*model.Provider, error) {
	if m.searchProvidersFn != nil {
		return m.searchProvidersFn(ctx, query)
	}
	return nil, nil
}

func (m *mockAccountService) Stats(ctx context.Context) (*model.AccountStats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx)
	}
	return &model.AccountStats{}, nil
}

type mockApprovalService struct {
	registerProviderFn func(ctx context.Context, in approval.ProviderInput) (*approval.Registration, error)
	decideFn           func(ctx context.Context, requestID string, outcome model.ApprovalStatus, adminID string) (*model.ApprovalDecision, error)
	listFn             func(ctx context.Context, status string) ([]model.ApprovalRequestWithProvider, error)
}

func (m *mockApprovalService) RegisterProvider(ctx context.Context, in approval.ProviderInput) (*approval.Registration, error) {
	if m.registerProviderFn != nil {
		return m.registerProviderFn(ctx, in)
	}
	return nil, nil
}

func (m *mockApprovalService) Decide(ctx context.Context, requestID string, outcome model.ApprovalStatus, adminID string) (*model.ApprovalDecision, error) {
	if m.decideFn != nil {
		return m.decideFn(ctx, requestID, outcome, adminID)
	}
	return nil, nil
}

func (m *mockApprovalService) List(ctx context.Context, status string) ([]model.ApprovalRequestWithProvider, error) {
	if m.listFn != nil {
		return m.listFn(ctx, status)
	}
	return nil, nil
}

type mockNotificationService struct {
	listFn        func(ctx context.Context, unreadOnly bool) ([]*model.Notification, error)
	summaryFn     func(ctx context.Context) (*model.NotificationSummary, error)
	markReadFn    func(ctx context.Context, id string) error
	markAllReadFn func(ctx context.Context, adminID string) (*model.MarkAllResult, error)
}

func (m *mockNotificationService) List(ctx context.Context, unreadOnly bool) ([]*model.Notification, error) {
	if m.listFn != nil {
		return m.listFn(ctx, unreadOnly)
	}
	return nil, nil
}

func (m *mockNotificationService) Summary(ctx context.Context) (*model.NotificationSummary, error) {
	if m.summaryFn != nil {
		return m.summaryFn(ctx)
	}
	return &model.NotificationSummary{}, nil
}

func (m *mockNotificationService) MarkRead(ctx context.Context, id string) error {
	if m.markReadFn != nil {
		return m.markReadFn(ctx, id)
	}
	return nil
}

func (m *mockNotificationService) MarkAllRead(ctx context.Context, adminID string) (*model.MarkAllResult, error) {
	if m.markAllReadFn != nil {
		return m.markAllReadFn(ctx, adminID)
	}
	return &model.MarkAllResult{Updated: []string{}, Failed: []string{}}, nil
}

// --- テストヘルパー ---

// withAdmin はテスト用にリクエストコンテキストへ管理者を注入する。
func withAdmin(r *http.Request, adminID string) *http.Request {
	return r.WithContext(middleware.ContextWithAdmin(r.Context(), adminID, model.RoleAdmin))
}

// decodeData は {"data": ...} エンベロープの中身をdstにデコードする。
func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode response: %v\nraw: %s", err, w.Body.String())
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("failed to decode data: %v\nraw: %s", err, env.Data)
	}
}

// decodeErrorBody はエラーレスポンスをデコードする。
func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error response: %v\nraw: %s", err, w.Body.String())
	}
	return body
}
