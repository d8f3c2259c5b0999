package adminclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/mandapadmin/internal/middleware"
	"github.com/hitoshi/mandapadmin/internal/model"
)

const testSessionID = "sess-1"

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func writeErr(w http.ResponseWriter, status int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, status, apiErr)
}

func requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(sessionCookieName)
		if err != nil || c.Value != testSessionID {
			writeErr(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

type fakeServer struct {
	*httptest.Server
	tokenFetches atomic.Int32
	decided      atomic.Int32
}

// newFakeServer は本物のCSRFミドルウェアを使う最小構成の管理APIを起動する。
func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	csrfCfg := middleware.CSRFConfig{}
	tokenHandler := middleware.NewCSRFTokenHandler(csrfCfg)

	r := chi.NewRouter()
	r.Post("/admin/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "correct-horse" {
			writeErr(w, http.StatusUnauthorized, model.NewInvalidCredentialsError())
			return
		}
		http.SetCookie(w, &http.Cookie{Name: sessionCookieName, Value: testSessionID, Path: "/", HttpOnly: true})
		writeData(w, http.StatusOK, model.Admin{ID: "admin-1", Email: body["email"]})
	})
	r.Get("/admin/csrf-token", func(w http.ResponseWriter, r *http.Request) {
		fs.tokenFetches.Add(1)
		tokenHandler.ServeHTTP(w, r)
	})
	r.Group(func(r chi.Router) {
		r.Use(requireSession)
		r.Use(middleware.NewCSRFMiddleware(csrfCfg))
		r.Get("/admin/me", func(w http.ResponseWriter, r *http.Request) {
			writeData(w, http.StatusOK, model.Admin{ID: "admin-1"})
		})
		r.Get("/admin/users", func(w http.ResponseWriter, r *http.Request) {
			writeData(w, http.StatusOK, []*model.User{{ID: "u-1", FullName: "Asha"}})
		})
		r.Post("/admin/add-user", func(w http.ResponseWriter, r *http.Request) {
			writeErr(w, http.StatusBadRequest, model.NewValidationError(map[string]string{"email": "invalid"}))
		})
		r.Post("/admin/add-provider", func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			writeData(w, http.StatusCreated, map[string]any{
				"provider":        model.Provider{ID: "p-1", Name: body["name"]},
				"approvalRequest": model.ApprovalRequest{ID: "r-1", ProviderID: "p-1", Status: model.ApprovalPending},
			})
		})
		r.Post("/admin/approve-request", func(w http.ResponseWriter, r *http.Request) {
			fs.decided.Add(1)
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			writeData(w, http.StatusOK, model.ApprovalDecision{
				RequestID: body["requestId"],
				Outcome:   model.ApprovalStatus(body["status"]),
				DecidedBy: "admin-1",
			})
		})
		r.Post("/admin/logout", func(w http.ResponseWriter, r *http.Request) {
			http.SetCookie(w, &http.Cookie{Name: sessionCookieName, Value: "", Path: "/", MaxAge: -1})
			w.WriteHeader(http.StatusNoContent)
		})
	})

	fs.Server = httptest.NewServer(r)
	t.Cleanup(fs.Close)
	return fs
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(baseURL)
	require.NoError(t, err)
	return c
}

func TestNewClient_RejectsNonHTTPScheme(t *testing.T) {
	_, err := NewClient("ftp://example.com")
	assert.Error(t, err)
}

func TestClient_LoginStoresSessionCookie(t *testing.T) {
	srv := newFakeServer(t)
	c := newTestClient(t, srv.URL)

	admin, err := c.Login(context.Background(), "ops@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "admin-1", admin.ID)
	assert.Equal(t, testSessionID, c.SessionToken())

	users, err := c.Users(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Asha", users[0].FullName)
}

func TestClient_LoginWrongPassword(t *testing.T) {
	srv := newFakeServer(t)
	c := newTestClient(t, srv.URL)

	_, err := c.Login(context.Background(), "ops@example.com", "nope")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, model.ErrCodeInvalidLogin, apiErr.Code)
	assert.Zero(t, srv.tokenFetches.Load(), "login does not need a csrf token")
}

func TestClient_RestoredSessionToken(t *testing.T) {
	srv := newFakeServer(t)
	c := newTestClient(t, srv.URL)

	_, err := c.Me(context.Background())
	assert.True(t, IsCode(err, model.ErrCodeUnauthorized))

	c.SetSessionToken(testSessionID)
	admin, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "admin-1", admin.ID)
}

func TestClient_MutationsCarryCSRFToken(t *testing.T) {
	srv := newFakeServer(t)
	c := newTestClient(t, srv.URL)
	ctx := context.Background()
	_, err := c.Login(ctx, "ops@example.com", "correct-horse")
	require.NoError(t, err)

	decision, err := c.Decide(ctx, "r-1", model.ApprovalApproved)
	require.NoError(t, err)
	assert.Equal(t, "r-1", decision.RequestID)
	assert.Equal(t, model.ApprovalApproved, decision.Outcome)

	_, err = c.Decide(ctx, "r-2", model.ApprovalRejected)
	require.NoError(t, err)

	assert.EqualValues(t, 1, srv.tokenFetches.Load(), "token is fetched once and reused")
	assert.EqualValues(t, 2, srv.decided.Load())
}

func TestClient_AddProviderReturnsPendingRequest(t *testing.T) {
	srv := newFakeServer(t)
	c := newTestClient(t, srv.URL)
	ctx := context.Background()
	_, err := c.Login(ctx, "ops@example.com", "correct-horse")
	require.NoError(t, err)

	res, err := c.AddProvider(ctx, ProviderInput{Name: "Lotus Hall", Email: "lotus@example.com", PhoneNumber: "+919876543210", Password: "secret-pass"})
	require.NoError(t, err)
	require.NotNil(t, res.Provider)
	require.NotNil(t, res.Request)
	assert.Equal(t, "Lotus Hall", res.Provider.Name)
	assert.Equal(t, model.ApprovalPending, res.Request.Status)
	assert.Equal(t, res.Provider.ID, res.Request.ProviderID)
}

func TestClient_ValidationErrorDecoded(t *testing.T) {
	srv := newFakeServer(t)
	c := newTestClient(t, srv.URL)
	ctx := context.Background()
	_, err := c.Login(ctx, "ops@example.com", "correct-horse")
	require.NoError(t, err)

	_, err = c.AddUser(ctx, UserInput{Email: "bad"})
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, model.ErrCodeValidation, apiErr.Code)
	assert.Equal(t, "invalid", apiErr.Fields["email"])
}

func TestClient_LogoutDropsSession(t *testing.T) {
	srv := newFakeServer(t)
	c := newTestClient(t, srv.URL)
	ctx := context.Background()
	_, err := c.Login(ctx, "ops@example.com", "correct-horse")
	require.NoError(t, err)

	require.NoError(t, c.Logout(ctx))
	assert.Empty(t, c.SessionToken())

	_, err = c.Me(ctx)
	assert.True(t, IsCode(err, model.ErrCodeUnauthorized))
}

func TestClient_RetriesOnceOnCSRFRejection(t *testing.T) {
	var fetches, posts atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/csrf-token", func(w http.ResponseWriter, r *http.Request) {
		n := fetches.Add(1)
		writeData(w, http.StatusOK, map[string]string{"token": map[int32]string{1: "stale", 2: "fresh"}[n]})
	})
	mux.HandleFunc("POST /admin/notifications/mark-read", func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		if r.Header.Get(csrfHeaderName) != "fresh" {
			writeErr(w, http.StatusForbidden, &model.APIError{Code: "CSRF_TOKEN_INVALID", Message: "csrf"})
			return
		}
		writeData(w, http.StatusOK, map[string]any{"notificationId": "n-1", "read": true})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	require.NoError(t, c.MarkRead(context.Background(), "n-1"))
	assert.EqualValues(t, 2, fetches.Load())
	assert.EqualValues(t, 2, posts.Load())
}

func TestClient_PartialMarkAllReadIsNotAnError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/csrf-token", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, map[string]string{"token": "t"})
	})
	mux.HandleFunc("POST /admin/notifications/mark-all-read", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusMultiStatus, model.MarkAllResult{Updated: []string{"n-1", "n-2"}, Failed: []string{"n-3"}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	result, err := c.MarkAllRead(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Updated, 2)
	assert.Equal(t, []string{"n-3"}, result.Failed)
}

func TestClient_NonJSONErrorFallsBackToStatusText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	_, err := c.Providers(context.Background())
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, http.StatusText(http.StatusBadGateway), apiErr.Code)
}
