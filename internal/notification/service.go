// Package notification は管理者向け通知の記録と配信を提供する。
//
// 通知は永続化に成功した後でのみプッシュ配信される。
// 配信は投げっぱなしで、配信失敗は呼び出し元に返さずログにのみ記録する。
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/mandapadmin/internal/metrics"
	"github.com/hitoshi/mandapadmin/internal/model"
	"github.com/hitoshi/mandapadmin/internal/push"
	"github.com/hitoshi/mandapadmin/internal/repository"
)

const (
	titleNewUser     = "New User Registration"
	titleNewProvider = "New Venue Provider"

	// markAllConcurrency はmarkAllReadで同時に発行するUPDATEの上限。
	markAllConcurrency = 8
)

// Publisher は接続中のセッションへイベントを配信する。
type Publisher interface {
	Broadcast(role model.Role, event push.Event) int
}

// Service は通知の記録・既読管理・配信を行う。
type Service struct {
	repo      repository.NotificationRepository
	publisher Publisher
	logger    *slog.Logger
	metrics   metrics.Recorder
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(repo repository.NotificationRepository, publisher Publisher, logger *slog.Logger, rec metrics.Recorder) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Service{
		repo:      repo,
		publisher: publisher,
		logger:    logger.With("component", "notification"),
		metrics:   rec,
		now:       time.Now,
	}
}

// Notify は未読の通知を永続化して返す。
// 永続化に失敗した場合はStorageErrorを返し、配信は行わない。
func (s *Service) Notify(ctx context.Context, typ model.NotificationType, title, message string, related model.RelatedIDs) (*model.Notification, error) {
	fields := map[string]string{}
	if !typ.IsValid() {
		fields["type"] = "通知種別が不正です。"
	}
	if strings.TrimSpace(title) == "" {
		fields["title"] = "タイトルは必須です。"
	}
	if len(fields) > 0 {
		return nil, model.NewValidationError(fields)
	}

	n := &model.Notification{
		ID:        uuid.NewString(),
		Type:      typ,
		Title:     title,
		Message:   message,
		Read:      false,
		CreatedAt: s.now(),
	}
	if related.UserID != "" {
		id := related.UserID
		n.RelatedUserID = &id
	}
	if related.ProviderID != "" {
		id := related.ProviderID
		n.RelatedProviderID = &id
	}

	if err := s.repo.Create(ctx, n); err != nil {
		s.logger.Error("failed to persist notification",
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
		return nil, model.NewStorageError(err)
	}
	s.metrics.RecordNotification(string(typ))

	return n, nil
}

// NotifyUserRegistered はユーザー登録の通知を記録し、管理者に配信する。
func (s *Service) NotifyUserRegistered(ctx context.Context, user *model.User) (*model.Notification, error) {
	n, err := s.Notify(ctx, model.NotificationNewUser, titleNewUser,
		fmt.Sprintf("%s has registered as a new user", user.FullName),
		model.RelatedIDs{UserID: user.ID},
	)
	if err != nil {
		return nil, err
	}
	s.Publish(ctx, push.NewUserRegistration(n, user))
	return n, nil
}

// NotifyProviderRegistered はプロバイダー登録の通知を記録し、管理者に配信する。
func (s *Service) NotifyProviderRegistered(ctx context.Context, provider *model.Provider) (*model.Notification, error) {
	n, err := s.Notify(ctx, model.NotificationNewProvider, titleNewProvider,
		fmt.Sprintf("%s has registered as a new venue provider", provider.Name),
		model.RelatedIDs{ProviderID: provider.ID},
	)
	if err != nil {
		return nil, err
	}
	s.Publish(ctx, push.NewProviderRegistration(n, provider))
	return n, nil
}

// Publish は接続中の全管理者セッションにイベントを配信する。
// 配信結果は呼び出し元に返さない。
func (s *Service) Publish(ctx context.Context, event push.Event) {
	if s.publisher == nil {
		return
	}
	queued := s.publisher.Broadcast(model.RoleAdmin, event)
	s.logger.DebugContext(ctx, "push event published",
		slog.String("event", event.Name),
		slog.Int("queued", queued),
	)
}

// MarkRead は通知を既読にする。既読の通知に対しては何もしない。
func (s *Service) MarkRead(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return model.NewValidationError(map[string]string{"notificationId": "通知IDは必須です。"})
	}
	if uuid.Validate(id) != nil {
		return model.NewNotFoundError("通知", id)
	}
	found, err := s.repo.MarkRead(ctx, id)
	if err != nil {
		return model.NewStorageError(err)
	}
	if !found {
		return model.NewNotFoundError("通知", id)
	}
	return nil
}

// MarkAllRead は全ての未読通知を既読にする。
// 通知ごとに個別のUPDATEを発行するため一部だけ失敗することがあり、
// その場合は失敗したIDを含む結果とStorageErrorを返す。再実行すれば残りが処理される。
func (s *Service) MarkAllRead(ctx context.Context, adminID string) (*model.MarkAllResult, error) {
	ids, err := s.repo.ListUnreadIDs(ctx)
	if err != nil {
		return nil, model.NewStorageError(err)
	}

	result := &model.MarkAllResult{Updated: []string{}, Failed: []string{}}
	var (
		mu       sync.Mutex
		firstErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(markAllConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			_, err := s.repo.MarkRead(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, id)
				if firstErr == nil {
					firstErr = err
				}
				return nil
			}
			result.Updated = append(result.Updated, id)
			return nil
		})
	}
	_ = g.Wait()

	slices.Sort(result.Updated)
	slices.Sort(result.Failed)

	s.logger.Info("mark all read completed",
		slog.String("admin_id", adminID),
		slog.Int("updated", len(result.Updated)),
		slog.Int("failed", len(result.Failed)),
	)

	if firstErr != nil {
		return result, model.NewStorageError(fmt.Errorf("%d notifications not marked read: %w", len(result.Failed), firstErr))
	}
	return result, nil
}

// List は通知を新しい順に返す。
func (s *Service) List(ctx context.Context, unreadOnly bool) ([]*model.Notification, error) {
	list, err := s.repo.List(ctx, unreadOnly, 0)
	if err != nil {
		return nil, model.NewStorageError(err)
	}
	return list, nil
}

// Summary は通知の集計値を返す。
func (s *Service) Summary(ctx context.Context) (*model.NotificationSummary, error) {
	summary, err := s.repo.Summary(ctx)
	if err != nil {
		return nil, model.NewStorageError(err)
	}
	return summary, nil
}
