package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/mandapadmin/internal/model"
)

// --- モック定義 ---

type mockSessionRepository struct {
	findByIDFn func(ctx context.Context, id string) (*model.Session, error)
}

func (m *mockSessionRepository) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func sessionRepoWith(session *model.Session) *mockSessionRepository {
	return &mockSessionRepository{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			if session != nil && id == session.ID {
				return session, nil
			}
			return nil, nil
		},
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponseBody {
	t.Helper()
	var body ErrorResponseBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body: %v\nraw: %s", err, w.Body.String())
	}
	return body
}

// --- テスト ---

func TestSessionMiddleware_ValidSession_InjectsAdmin(t *testing.T) {
	repo := sessionRepoWith(&model.Session{
		ID:        "valid-session-id",
		AdminID:   "admin-123",
		Role:      model.RoleAdmin,
		ExpiresAt: time.Now().Add(time.Hour),
	})

	var capturedID string
	var capturedRole model.Role
	handler := NewSessionMiddleware(repo)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := AdminIDFromContext(r.Context())
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		capturedID = id
		capturedRole, _ = RoleFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session-id"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if capturedID != "admin-123" {
		t.Errorf("adminID = %q, want %q", capturedID, "admin-123")
	}
	if capturedRole != model.RoleAdmin {
		t.Errorf("role = %q, want admin", capturedRole)
	}
}

func TestSessionMiddleware_Unauthenticated_Returns401(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		repo   *mockSessionRepository
	}{
		{"Cookieなし", "", &mockSessionRepository{}},
		{"期限切れまたは存在しないセッション", "expired", &mockSessionRepository{}},
		{"リポジトリエラー", "any", &mockSessionRepository{
			findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
				return nil, errors.New("db error")
			},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewSessionMiddleware(tt.repo)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			if body := decodeError(t, w); body.Code != model.ErrCodeUnauthorized {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUnauthorized)
			}
		})
	}
}

func TestRequireAdmin_RoleSwitch(t *testing.T) {
	tests := []struct {
		name string
		role *model.Role
		want int
	}{
		{"admin", ptrRole(model.RoleAdmin), http.StatusOK},
		{"provider", ptrRole(model.RoleProvider), http.StatusForbidden},
		{"user", ptrRole(model.RoleUser), http.StatusForbidden},
		{"未知のロール", ptrRole(model.Role("superuser")), http.StatusForbidden},
		{"セッションなし", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
			if tt.role != nil {
				req = req.WithContext(ContextWithAdmin(req.Context(), "id-1", *tt.role))
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func ptrRole(r model.Role) *model.Role { return &r }

func TestAdminIDFromContext_Missing(t *testing.T) {
	if _, err := AdminIDFromContext(context.Background()); err == nil {
		t.Error("expected error for context without admin ID")
	}
}
