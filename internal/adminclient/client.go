// Package adminclient は管理APIのクライアントを提供する。
// REST呼び出し、プッシュ受信、サーバー状態との突き合わせ（View）を含む。
package adminclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/hitoshi/mandapadmin/internal/model"
)

const (
	sessionCookieName = "session_id"
	csrfCookieName    = "csrf_token"
	csrfHeaderName    = "X-CSRF-Token"

	defaultTimeout = 15 * time.Second
)

// Error はAPIが返したエラーレスポンス。
type Error struct {
	StatusCode int               `json:"-"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Action     string            `json:"action"`
	Fields     map[string]string `json:"fields,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("admin api: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsCode はerrが指定コードのAPIエラーかを判定する。
func IsCode(err error, code string) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// UserInput はユーザー追加の入力。
type UserInput struct {
	FullName    string `json:"fullName"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	Password    string `json:"password"`
}

// ProviderInput はプロバイダー追加の入力。
type ProviderInput struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	Password    string `json:"password"`
}

// AddProviderResult はプロバイダー追加の結果。
type AddProviderResult struct {
	Provider *model.Provider        `json:"provider"`
	Request  *model.ApprovalRequest `json:"approvalRequest"`
}

// Client は管理APIのRESTクライアント。
// セッションCookieとCSRFトークンをcookie jarで保持する。
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	jar        http.CookieJar

	mu        sync.Mutex
	csrfToken string
}

// Option はClientの設定を変更する。
type Option func(*Client)

// WithHTTPClient はリクエストに使うhttp.Clientを差し替える。Jarは上書きされる。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient はClientを生成する。
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url scheme %q", u.Scheme)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: defaultTimeout},
		jar:        jar,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.Jar = jar
	return c, nil
}

// HTTPClient はcookie jar付きのhttp.Clientを返す。WebSocket接続で使用する。
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// BaseURL はAPIのベースURLを返す。
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// SessionToken はcookie jarが保持しているセッションIDを返す。
func (c *Client) SessionToken() string {
	for _, ck := range c.jar.Cookies(c.baseURL) {
		if ck.Name == sessionCookieName {
			return ck.Value
		}
	}
	return ""
}

// SetSessionToken は保存済みのセッションIDをcookie jarへ復元する。
func (c *Client) SetSessionToken(token string) {
	c.jar.SetCookies(c.baseURL, []*http.Cookie{{
		Name:  sessionCookieName,
		Value: token,
		Path:  "/",
	}})
}

// Login はメールアドレスとパスワードでログインする。
func (c *Client) Login(ctx context.Context, email, password string) (*model.Admin, error) {
	var admin model.Admin
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/admin/login", nil, body, &admin); err != nil {
		return nil, err
	}
	c.resetCSRF()
	return &admin, nil
}

// Logout はサーバー側のセッションを破棄する。
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/admin/logout", nil, nil, nil)
	c.resetCSRF()
	return err
}

// Me は現在のセッションの管理者を返す。
func (c *Client) Me(ctx context.Context) (*model.Admin, error) {
	var admin model.Admin
	if err := c.do(ctx, http.MethodGet, "/admin/me", nil, nil, &admin); err != nil {
		return nil, err
	}
	return &admin, nil
}

// AddUser はユーザーを追加する。
func (c *Client) AddUser(ctx context.Context, in UserInput) (*model.User, error) {
	var user model.User
	if err := c.do(ctx, http.MethodPost, "/admin/add-user", nil, in, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// AddProvider はプロバイダーを追加する。保留中の承認リクエストも作成される。
func (c *Client) AddProvider(ctx context.Context, in ProviderInput) (*AddProviderResult, error) {
	var reg AddProviderResult
	if err := c.do(ctx, http.MethodPost, "/admin/add-provider", nil, in, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// ApprovalRequests は承認リクエストの一覧を返す。statusが空の場合は全件。
func (c *Client) ApprovalRequests(ctx context.Context, status model.ApprovalStatus) ([]model.ApprovalRequestWithProvider, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", string(status))
	}
	var list []model.ApprovalRequestWithProvider
	if err := c.do(ctx, http.MethodGet, "/admin/approval-requests", q, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Decide は承認リクエストを承認または却下する。
func (c *Client) Decide(ctx context.Context, requestID string, outcome model.ApprovalStatus) (*model.ApprovalDecision, error) {
	var decision model.ApprovalDecision
	body := map[string]string{"requestId": requestID, "status": string(outcome)}
	if err := c.do(ctx, http.MethodPost, "/admin/approve-request", nil, body, &decision); err != nil {
		return nil, err
	}
	return &decision, nil
}

// Notifications は通知の一覧を返す。
func (c *Client) Notifications(ctx context.Context, unreadOnly bool) ([]*model.Notification, error) {
	q := url.Values{}
	if unreadOnly {
		q.Set("unread", strconv.FormatBool(true))
	}
	var list []*model.Notification
	if err := c.do(ctx, http.MethodGet, "/admin/notifications", q, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// NotificationSummary は通知件数の集計を返す。
func (c *Client) NotificationSummary(ctx context.Context) (*model.NotificationSummary, error) {
	var summary model.NotificationSummary
	if err := c.do(ctx, http.MethodGet, "/admin/notifications/summary", nil, nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// MarkRead は通知を既読にする。
func (c *Client) MarkRead(ctx context.Context, notificationID string) error {
	body := map[string]string{"notificationId": notificationID}
	return c.do(ctx, http.MethodPost, "/admin/notifications/mark-read", nil, body, nil)
}

// MarkAllRead は未読通知をすべて既読にする。
// 一部が失敗した場合も結果を返し、失敗したIDはFailedに含まれる。
func (c *Client) MarkAllRead(ctx context.Context) (*model.MarkAllResult, error) {
	var result model.MarkAllResult
	if err := c.do(ctx, http.MethodPost, "/admin/notifications/mark-all-read", nil, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Users はユーザー一覧を返す。
func (c *Client) Users(ctx context.Context) ([]*model.User, error) {
	var list []*model.User
	if err := c.do(ctx, http.MethodGet, "/admin/users", nil, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Providers はプロバイダー一覧を返す。
func (c *Client) Providers(ctx context.Context) ([]*model.Provider, error) {
	var list []*model.Provider
	if err := c.do(ctx, http.MethodGet, "/admin/providers", nil, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// SearchUsers はユーザーを検索する。
func (c *Client) SearchUsers(ctx context.Context, query string) ([]*model.User, error) {
	var list []*model.User
	if err := c.do(ctx, http.MethodGet, "/admin/search-users", url.Values{"query": {query}}, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// SearchProviders はプロバイダーを検索する。
func (c *Client) SearchProviders(ctx context.Context, query string) ([]*model.Provider, error) {
	var list []*model.Provider
	if err := c.do(ctx, http.MethodGet, "/admin/search-providers", url.Values{"query": {query}}, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Stats はアカウント集計を返す。
func (c *Client) Stats(ctx context.Context) (*model.AccountStats, error) {
	var stats model.AccountStats
	if err := c.do(ctx, http.MethodGet, "/admin/stats", nil, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) resetCSRF() {
	c.mu.Lock()
	c.csrfToken = ""
	c.mu.Unlock()
}

// ensureCSRF は状態変更リクエスト用のCSRFトークンを取得する。
func (c *Client) ensureCSRF(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.csrfToken
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := c.send(ctx, http.MethodGet, "/admin/csrf-token", nil, nil, "", &resp); err != nil {
		return "", fmt.Errorf("failed to fetch csrf token: %w", err)
	}

	c.mu.Lock()
	c.csrfToken = resp.Token
	c.mu.Unlock()
	return resp.Token, nil
}

// do はリクエストを送信する。ログイン以外のPOSTにはCSRFトークンを付与する。
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	csrf := ""
	if method != http.MethodGet && path != "/admin/login" {
		token, err := c.ensureCSRF(ctx)
		if err != nil {
			return err
		}
		csrf = token
	}
	err := c.send(ctx, method, path, query, body, csrf, out)
	if csrf != "" && IsCode(err, "CSRF_TOKEN_INVALID") {
		// Cookieの期限切れ等。トークンを取り直して1回だけ再送する
		c.resetCSRF()
		token, tokenErr := c.ensureCSRF(ctx)
		if tokenErr != nil {
			return tokenErr
		}
		return c.send(ctx, method, path, query, body, token, out)
	}
	return err
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body any, csrf string, out any) error {
	u := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if csrf != "" {
		req.Header.Set(csrfHeaderName, csrf)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &Error{StatusCode: resp.StatusCode}
		if decodeErr := json.NewDecoder(resp.Body).Decode(apiErr); decodeErr != nil || apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	env := struct {
		Data any `json:"data"`
	}{Data: out}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}
