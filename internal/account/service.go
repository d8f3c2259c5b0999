// Package account はユーザー・プロバイダーアカウントの管理機能を提供する。
package account

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/mandapadmin/internal/model"
	"github.com/hitoshi/mandapadmin/internal/repository"
	"github.com/hitoshi/mandapadmin/internal/security"
	"github.com/hitoshi/mandapadmin/internal/validate"
)

// maxQueryLength は検索クエリの最大文字数。
const maxQueryLength = 100

// UserNotifier はユーザー登録の通知を行う。
type UserNotifier interface {
	NotifyUserRegistered(ctx context.Context, user *model.User) (*model.Notification, error)
}

// ApprovalCounter はステータスごとの承認リクエスト数を返す。
type ApprovalCounter interface {
	CountByStatus(ctx context.Context) (map[model.ApprovalStatus]int, error)
}

// UserInput はユーザー追加の入力。
type UserInput struct {
	FullName    string `json:"fullName"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	Password    string `json:"password"`
}

// Options はServiceの設定。
type Options struct {
	PhoneRegion string
	BcryptCost  int
}

// Service はアカウント管理のサービス層。
type Service struct {
	users     repository.UserRepository
	providers repository.ProviderRepository
	approvals ApprovalCounter
	notifier  UserNotifier
	sanitizer security.TextSanitizer
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	users repository.UserRepository,
	providers repository.ProviderRepository,
	approvals ApprovalCounter,
	notifier UserNotifier,
	sanitizer security.TextSanitizer,
	opts Options,
	logger *slog.Logger,
) *Service {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.PhoneRegion == "" {
		opts.PhoneRegion = "IN"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:     users,
		providers: providers,
		approvals: approvals,
		notifier:  notifier,
		sanitizer: sanitizer,
		opts:      opts,
		logger:    logger.With("component", "account"),
		now:       time.Now,
	}
}

// AddUser はユーザーを作成し、管理者へ new_user 通知を送る。
// メールアドレスがユーザー・プロバイダーのいずれかと重複する場合はValidationErrorを返す。
func (s *Service) AddUser(ctx context.Context, in UserInput) (*model.User, error) {
	account := validate.Account{
		Name:        s.sanitizer.Sanitize(in.FullName),
		Email:       in.Email,
		PhoneNumber: in.PhoneNumber,
		Password:    in.Password,
	}
	if err := account.Validate("fullName", s.opts.PhoneRegion); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(account.Password), s.opts.BcryptCost)
	if err != nil {
		return nil, model.NewStorageError(err)
	}

	user := &model.User{
		ID:           uuid.NewString(),
		FullName:     account.Name,
		Email:        account.Email,
		PhoneNumber:  account.PhoneNumber,
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewDuplicateEmailError()
		}
		return nil, model.NewStorageError(err)
	}

	s.logger.InfoContext(ctx, "user added", slog.String("user_id", user.ID))

	// 通知の失敗はユーザー作成の結果に影響しない
	if _, err := s.notifier.NotifyUserRegistered(ctx, user); err != nil {
		s.logger.WarnContext(ctx, "user notification failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
	return user, nil
}

// ListUsers は全ユーザーを新しい順に返す。
func (s *Service) ListUsers(ctx context.Context) ([]*model.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, model.NewStorageError(err)
	}
	return users, nil
}

// ListProviders は全プロバイダーを新しい順に返す。
func (s *Service) ListProviders(ctx context.Context) ([]*model.Provider, error) {
	providers, err := s.providers.List(ctx)
	if err != nil {
		return nil, model.NewStorageError(err)
	}
	return providers, nil
}

// SearchUsers は氏名・メールアドレス・電話番号の部分一致でユーザーを検索する。
func (s *Service) SearchUsers(ctx context.Context, query string) ([]*model.User, error) {
	q, err := normalizeQuery(query)
	if err != nil {
		return nil, err
	}
	users, err := s.users.Search(ctx, q)
	if err != nil {
		return nil, model.NewStorageError(err)
	}
	return users, nil
}

// SearchProviders は名称・メールアドレス・電話番号の部分一致でプロバイダーを検索する。
func (s *Service) SearchProviders(ctx context.Context, query string) ([]*model.Provider, error) {
	q, err := normalizeQuery(query)
	if err != nil {
		return nil, err
	}
	providers, err := s.providers.Search(ctx, q)
	if err != nil {
		return nil, model.NewStorageError(err)
	}
	return providers, nil
}

func normalizeQuery(query string) (string, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return "", model.NewValidationError(map[string]string{"query": "検索語を入力してください。"})
	}
	if len([]rune(q)) > maxQueryLength {
		return "", model.NewValidationError(map[string]string{"query": "検索語が長すぎます。"})
	}
	return q, nil
}

// Stats はダッシュボードの集計値を返す。各集計は並行に取得する。
func (s *Service) Stats(ctx context.Context) (*model.AccountStats, error) {
	var (
		stats  model.AccountStats
		counts map[model.ApprovalStatus]int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.users.Count(gctx)
		stats.TotalUsers = n
		return err
	})
	g.Go(func() error {
		n, err := s.providers.Count(gctx)
		stats.TotalProviders = n
		return err
	})
	g.Go(func() error {
		c, err := s.approvals.CountByStatus(gctx)
		counts = c
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, model.NewStorageError(err)
	}

	stats.PendingProviders = counts[model.ApprovalPending]
	stats.ApprovedProviders = counts[model.ApprovalApproved]
	stats.RejectedProviders = counts[model.ApprovalRejected]
	return &stats, nil
}
