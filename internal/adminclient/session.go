package adminclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hitoshi/mandapadmin/internal/model"
)

// Token は永続化するセッション情報。
type Token struct {
	SessionID string    `json:"sessionId"`
	AdminID   string    `json:"adminId"`
	SavedAt   time.Time `json:"savedAt"`
}

// TokenStore はセッション情報の保存先。
type TokenStore interface {
	// Load は保存済みのTokenを返す。保存されていない場合はnil, nil。
	Load() (*Token, error)
	Save(token *Token) error
	Clear() error
}

// FileTokenStore はJSONファイルにTokenを保存する。
type FileTokenStore struct {
	path string
}

// NewFileTokenStore はFileTokenStoreを生成する。
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

// Load は保存済みのTokenを読み込む。
func (s *FileTokenStore) Load() (*Token, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	if token.SessionID == "" {
		return nil, nil
	}
	return &token, nil
}

// Save はTokenを所有者のみ読み書きできるファイルとして書き込む。
func (s *FileTokenStore) Save(token *Token) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create token dir: %w", err)
	}
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

// Clear は保存済みのTokenを削除する。
func (s *FileTokenStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}

// Session は管理クライアントの実行コンテキスト。
// Client、EventBus、PushClient、Viewを1回だけ組み立てて保持する。
type Session struct {
	Client *Client
	Bus    *EventBus
	Push   *PushClient
	View   *View

	store  TokenStore
	logger *slog.Logger

	mu     sync.Mutex
	admin  *model.Admin
	attach sync.Once
}

// SessionOptions はSessionの設定。
type SessionOptions struct {
	Logger *slog.Logger
	// OnChange はViewのコレクションが更新されるたびに呼ばれる。
	OnChange      func(Collection)
	ClientOptions []Option
}

// NewSession はSessionを生成する。
func NewSession(baseURL string, store TokenStore, opts SessionOptions) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client, err := NewClient(baseURL, opts.ClientOptions...)
	if err != nil {
		return nil, err
	}
	bus := NewEventBus()
	view := NewView(client, logger, opts.OnChange)
	pushClient := NewPushClient(client, bus, logger)
	pushClient.OnConnect = func(ctx context.Context) {
		// 切断中に取りこぼしたイベントを補う
		if err := view.RefetchAll(ctx); err != nil {
			logger.Warn("refetch on connect failed", slog.String("error", err.Error()))
		}
	}

	return &Session{
		Client: client,
		Bus:    bus,
		Push:   pushClient,
		View:   view,
		store:  store,
		logger: logger.With("component", "admin_session"),
	}, nil
}

// Open は保存済みのセッションを復元し、無効であればログインし直す。
func (s *Session) Open(ctx context.Context, email, password string) (*model.Admin, error) {
	if admin, ok := s.restore(ctx); ok {
		s.setAdmin(admin)
		return admin, nil
	}

	admin, err := s.Client.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	s.setAdmin(admin)

	token := &Token{SessionID: s.Client.SessionToken(), AdminID: admin.ID, SavedAt: time.Now()}
	if err := s.store.Save(token); err != nil {
		s.logger.Warn("failed to persist session", slog.String("error", err.Error()))
	}
	s.logger.Info("logged in", slog.String("admin_id", admin.ID))
	return admin, nil
}

func (s *Session) restore(ctx context.Context) (*model.Admin, bool) {
	token, err := s.store.Load()
	if err != nil {
		s.logger.Warn("failed to load saved session", slog.String("error", err.Error()))
		return nil, false
	}
	if token == nil {
		return nil, false
	}

	s.Client.SetSessionToken(token.SessionID)
	admin, err := s.Client.Me(ctx)
	if err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			s.logger.Info("saved session expired")
			if clearErr := s.store.Clear(); clearErr != nil {
				s.logger.Warn("failed to clear saved session", slog.String("error", clearErr.Error()))
			}
		} else {
			s.logger.Warn("failed to verify saved session", slog.String("error", err.Error()))
		}
		return nil, false
	}
	s.logger.Info("session restored", slog.String("admin_id", admin.ID))
	return admin, true
}

func (s *Session) setAdmin(admin *model.Admin) {
	s.mu.Lock()
	s.admin = admin
	s.mu.Unlock()
}

// Admin はログイン中の管理者を返す。Open前はnil。
func (s *Session) Admin() *model.Admin {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admin
}

// Run はViewをプッシュイベントに接続し、コンテキストがキャンセルされるまで同期を続ける。
func (s *Session) Run(ctx context.Context) error {
	admin := s.Admin()
	if admin == nil {
		return errors.New("session is not open")
	}
	s.attach.Do(func() { s.View.Attach(ctx, s.Bus) })
	return s.Push.Run(ctx, admin.ID)
}

// Close はログアウトし、保存済みのセッションを削除する。
func (s *Session) Close(ctx context.Context) error {
	logoutErr := s.Client.Logout(ctx)
	clearErr := s.store.Clear()
	s.setAdmin(nil)
	return errors.Join(logoutErr, clearErr)
}
