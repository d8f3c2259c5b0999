// Package approval はプロバイダー承認リクエストの状態遷移を管理する。
//
// 状態は pending から approved または rejected へ一方向にのみ遷移する。
// 遷移はデータベース上の比較交換で行い、同じリクエストへの同時判定は最初の1件だけが成功する。
// 遷移のコミット後にのみプッシュ配信を行う。
package approval

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/mandapadmin/internal/metrics"
	"github.com/hitoshi/mandapadmin/internal/model"
	"github.com/hitoshi/mandapadmin/internal/push"
	"github.com/hitoshi/mandapadmin/internal/repository"
	"github.com/hitoshi/mandapadmin/internal/security"
	"github.com/hitoshi/mandapadmin/internal/validate"
)

// Notifier は通知の記録とプッシュ配信を行う。
type Notifier interface {
	NotifyProviderRegistered(ctx context.Context, provider *model.Provider) (*model.Notification, error)
	Publish(ctx context.Context, event push.Event)
}

// Options はServiceの設定。
type Options struct {
	// PhoneRegion は国番号のない電話番号を解釈する地域コード。
	PhoneRegion string
	// BcryptCost はパスワードハッシュのコスト。0の場合はbcrypt.DefaultCost。
	BcryptCost int
}

// ProviderInput はプロバイダー登録の入力。
type ProviderInput struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	Password    string `json:"password"`
}

// Registration はプロバイダー登録の結果。
type Registration struct {
	Provider     *model.Provider        `json:"provider"`
	Request      *model.ApprovalRequest `json:"approvalRequest"`
	Notification *model.Notification    `json:"notification,omitempty"`
}

// Service は承認リクエストのライフサイクルを管理する。
type Service struct {
	approvals repository.ApprovalRepository
	providers repository.ProviderRepository
	notifier  Notifier
	sanitizer security.TextSanitizer
	opts      Options
	logger    *slog.Logger
	metrics   metrics.Recorder
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	approvals repository.ApprovalRepository,
	providers repository.ProviderRepository,
	notifier Notifier,
	sanitizer security.TextSanitizer,
	opts Options,
	logger *slog.Logger,
	rec metrics.Recorder,
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
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Service{
		approvals: approvals,
		providers: providers,
		notifier:  notifier,
		sanitizer: sanitizer,
		opts:      opts,
		logger:    logger.With("component", "approval"),
		metrics:   rec,
		now:       time.Now,
	}
}

// RegisterProvider はプロバイダーと保留中の承認リクエストを同一トランザクションで作成し、
// 管理者へ new_provider 通知を送る。
// 通知の記録に失敗しても登録自体は成功として扱い、Notificationはnilになる。
func (s *Service) RegisterProvider(ctx context.Context, in ProviderInput) (*Registration, error) {
	account := validate.Account{
		Name:        s.sanitizer.Sanitize(in.Name),
		Email:       in.Email,
		PhoneNumber: in.PhoneNumber,
		Password:    in.Password,
	}
	if err := account.Validate("name", s.opts.PhoneRegion); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(account.Password), s.opts.BcryptCost)
	if err != nil {
		return nil, model.NewStorageError(err)
	}

	now := s.now()
	provider := &model.Provider{
		ID:           uuid.NewString(),
		Name:         account.Name,
		Email:        account.Email,
		PhoneNumber:  account.PhoneNumber,
		PasswordHash: string(hash),
		CreatedAt:    now,
	}
	request := &model.ApprovalRequest{
		ID:         uuid.NewString(),
		ProviderID: provider.ID,
		Status:     model.ApprovalPending,
		CreatedAt:  now,
	}

	if err := s.providers.CreateWithRequest(ctx, provider, request); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewDuplicateEmailError()
		}
		return nil, model.NewStorageError(err)
	}

	s.logger.InfoContext(ctx, "provider registered",
		slog.String("provider_id", provider.ID),
		slog.String("request_id", request.ID),
	)

	reg := &Registration{Provider: provider, Request: request}
	n, err := s.notifier.NotifyProviderRegistered(ctx, provider)
	if err != nil {
		s.logger.WarnContext(ctx, "provider notification failed",
			slog.String("provider_id", provider.ID),
			slog.String("error", err.Error()),
		)
		return reg, nil
	}
	reg.Notification = n
	return reg, nil
}

// CreateRequest は既存のプロバイダーに保留中の承認リクエストを作成し、
// new_provider 通知を送る。既にリクエストが存在する場合はConflictErrorを返す。
func (s *Service) CreateRequest(ctx context.Context, providerID string) (*model.ApprovalRequest, error) {
	if strings.TrimSpace(providerID) == "" {
		return nil, model.NewValidationError(map[string]string{"providerId": "プロバイダーIDは必須です。"})
	}
	if uuid.Validate(providerID) != nil {
		return nil, model.NewNotFoundError("プロバイダー", providerID)
	}

	provider, err := s.providers.FindByID(ctx, providerID)
	if err != nil {
		return nil, model.NewStorageError(err)
	}
	if provider == nil {
		return nil, model.NewNotFoundError("プロバイダー", providerID)
	}

	request := &model.ApprovalRequest{
		ID:         uuid.NewString(),
		ProviderID: providerID,
		Status:     model.ApprovalPending,
		CreatedAt:  s.now(),
	}
	if err := s.approvals.Create(ctx, request); err != nil {
		if errors.Is(err, repository.ErrDuplicateRequest) {
			return nil, model.NewConflictError(providerID)
		}
		return nil, model.NewStorageError(err)
	}

	if _, err := s.notifier.NotifyProviderRegistered(ctx, provider); err != nil {
		s.logger.WarnContext(ctx, "provider notification failed",
			slog.String("provider_id", providerID),
			slog.String("error", err.Error()),
		)
	}
	return request, nil
}

// Decide は保留中の承認リクエストを outcome へ遷移させ、approvalStatusUpdate を配信する。
// 存在しない場合はNotFoundError、既に判定済みの場合はInvalidStateErrorを返す。
func (s *Service) Decide(ctx context.Context, requestID string, outcome model.ApprovalStatus, adminID string) (*model.ApprovalDecision, error) {
	fields := map[string]string{}
	if strings.TrimSpace(requestID) == "" {
		fields["requestId"] = "リクエストIDは必須です。"
	}
	if !outcome.IsOutcome() {
		fields["status"] = "approved または rejected を指定してください。"
	}
	if len(fields) > 0 {
		return nil, model.NewValidationError(fields)
	}
	if uuid.Validate(requestID) != nil {
		s.metrics.RecordDecision(metrics.DecisionNotFound)
		return nil, model.NewNotFoundError("承認リクエスト", requestID)
	}

	decided, err := s.approvals.Decide(ctx, requestID, outcome, adminID, s.now())
	if err != nil {
		return nil, model.NewStorageError(err)
	}
	if decided == nil {
		return nil, s.explainRejectedTransition(ctx, requestID, outcome)
	}

	decision := &model.ApprovalDecision{
		RequestID:  decided.ID,
		ProviderID: decided.ProviderID,
		Outcome:    decided.Status,
		DecidedBy:  adminID,
		DecidedAt:  *decided.DecidedAt,
	}

	s.metrics.RecordDecision(string(decision.Outcome))
	s.logger.InfoContext(ctx, "approval request decided",
		slog.String("request_id", decision.RequestID),
		slog.String("provider_id", decision.ProviderID),
		slog.String("outcome", string(decision.Outcome)),
		slog.String("admin_id", adminID),
	)

	s.notifier.Publish(ctx, push.ApprovalStatusUpdate(decision))
	return decision, nil
}

// explainRejectedTransition は比較交換が不成立だった理由を判定する。
func (s *Service) explainRejectedTransition(ctx context.Context, requestID string, outcome model.ApprovalStatus) error {
	current, err := s.approvals.FindByID(ctx, requestID)
	if err != nil {
		return model.NewStorageError(err)
	}
	if current == nil {
		s.metrics.RecordDecision(metrics.DecisionNotFound)
		return model.NewNotFoundError("承認リクエスト", requestID)
	}

	s.metrics.RecordDecision(metrics.DecisionInvalidState)
	s.logger.InfoContext(ctx, "approval transition rejected",
		slog.String("request_id", requestID),
		slog.String("current", string(current.Status)),
		slog.String("requested", string(outcome)),
	)
	return model.NewInvalidStateError(requestID, current.Status)
}

// List は承認リクエストをプロバイダー情報付きで新しい順に返す。
// statusが空の場合は全件、不正な値の場合はValidationErrorを返す。
func (s *Service) List(ctx context.Context, status string) ([]model.ApprovalRequestWithProvider, error) {
	var filter model.ApprovalStatus
	if status != "" {
		parsed, ok := model.ParseApprovalStatus(status)
		if !ok {
			return nil, model.NewValidationError(map[string]string{"status": "pending, approved, rejected のいずれかを指定してください。"})
		}
		filter = parsed
	}

	list, err := s.approvals.List(ctx, filter)
	if err != nil {
		return nil, model.NewStorageError(err)
	}
	return list, nil
}

// Counts はステータスごとの承認リクエスト数を返す。
func (s *Service) Counts(ctx context.Context) (map[model.ApprovalStatus]int, error) {
	counts, err := s.approvals.CountByStatus(ctx)
	if err != nil {
		return nil, model.NewStorageError(err)
	}
	return counts, nil
}
