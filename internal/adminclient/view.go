package adminclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hitoshi/mandapadmin/internal/model"
)

// Collection はViewが保持するコレクションの種類。
type Collection string

const (
	CollectionUsers     Collection = "users"
	CollectionProviders Collection = "providers"
	CollectionRequests  Collection = "approvalRequests"
)

// ErrSuperseded は後から開始した再取得に追い越された応答であることを表す。
var ErrSuperseded = errors.New("refetch superseded by a newer one")

// RefetchError はコレクションの再取得失敗を表す。
// 直前の取得結果は保持されたままで、Retryで再試行できる。
type RefetchError struct {
	Collection Collection
	At         time.Time
	Err        error
}

func (e *RefetchError) Error() string {
	return fmt.Sprintf("refetch %s failed: %v", e.Collection, e.Err)
}

func (e *RefetchError) Unwrap() error { return e.Err }

// Fetcher はViewがサーバーから正の状態を取得するためのインターフェース。
// *Clientが実装する。
type Fetcher interface {
	Users(ctx context.Context) ([]*model.User, error)
	Providers(ctx context.Context) ([]*model.Provider, error)
	ApprovalRequests(ctx context.Context, status model.ApprovalStatus) ([]model.ApprovalRequestWithProvider, error)
	Decide(ctx context.Context, requestID string, outcome model.ApprovalStatus) (*model.ApprovalDecision, error)
}

// View はユーザー・プロバイダー・承認リクエストのローカルキャッシュ。
// ローカルの値は参考値で、プッシュイベントや操作のたびにサーバーから再取得した値が優先される。
type View struct {
	api      Fetcher
	logger   *slog.Logger
	onChange func(Collection)
	now      func() time.Time

	mu        sync.Mutex
	users     []*model.User
	providers []*model.Provider
	requests  []model.ApprovalRequestWithProvider
	issued    map[Collection]uint64 // 発行済みの最新世代
	applied   map[Collection]uint64 // 反映済みの回数
	errs      map[Collection]*RefetchError
}

// NewView はViewを生成する。onChangeはコレクションが更新されるたびにロック外で呼ばれる。
func NewView(api Fetcher, logger *slog.Logger, onChange func(Collection)) *View {
	if logger == nil {
		logger = slog.Default()
	}
	if onChange == nil {
		onChange = func(Collection) {}
	}
	return &View{
		api:      api,
		logger:   logger.With("component", "admin_view"),
		onChange: onChange,
		now:      time.Now,
		issued:   make(map[Collection]uint64),
		applied:  make(map[Collection]uint64),
		errs:     make(map[Collection]*RefetchError),
	}
}

// Users は最後に取得したユーザー一覧のコピーを返す。
func (v *View) Users() []*model.User {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.users)
}

// Providers は最後に取得したプロバイダー一覧のコピーを返す。
func (v *View) Providers() []*model.Provider {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.providers)
}

// Requests は最後に取得した承認リクエスト一覧のコピーを返す。
func (v *View) Requests() []model.ApprovalRequestWithProvider {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.requests)
}

// Request は承認リクエストを1件返す。
func (v *View) Request(id string) (model.ApprovalRequestWithProvider, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if i := v.indexOfRequest(id); i >= 0 {
		return v.requests[i], true
	}
	return model.ApprovalRequestWithProvider{}, false
}

// Err はコレクションの直近の再取得エラーを返す。エラーがなければnil。
func (v *View) Err(c Collection) *RefetchError {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.errs[c]
}

// Refetch はコレクションをサーバーから取得し直す。
// より新しい再取得が開始されていた場合、この応答は破棄されErrSupersededを返す。
// 失敗した場合は直前のデータを保持したまま*RefetchErrorを返す。
func (v *View) Refetch(ctx context.Context, c Collection) error {
	v.mu.Lock()
	v.issued[c]++
	gen := v.issued[c]
	v.mu.Unlock()

	var (
		users     []*model.User
		providers []*model.Provider
		requests  []model.ApprovalRequestWithProvider
		err       error
	)
	switch c {
	case CollectionUsers:
		users, err = v.api.Users(ctx)
	case CollectionProviders:
		providers, err = v.api.Providers(ctx)
	case CollectionRequests:
		requests, err = v.api.ApprovalRequests(ctx, "")
	default:
		return fmt.Errorf("unknown collection %q", c)
	}

	v.mu.Lock()
	if v.issued[c] != gen {
		v.mu.Unlock()
		v.logger.Debug("discarding superseded refetch", slog.String("collection", string(c)), slog.Uint64("generation", gen))
		return ErrSuperseded
	}
	if err != nil {
		refetchErr := &RefetchError{Collection: c, At: v.now(), Err: err}
		v.errs[c] = refetchErr
		v.mu.Unlock()
		v.logger.Warn("refetch failed; keeping last known data",
			slog.String("collection", string(c)),
			slog.String("error", err.Error()),
		)
		v.onChange(c)
		return refetchErr
	}
	switch c {
	case CollectionUsers:
		v.users = users
	case CollectionProviders:
		v.providers = providers
	case CollectionRequests:
		v.requests = requests
	}
	v.applied[c]++
	delete(v.errs, c)
	v.mu.Unlock()

	v.onChange(c)
	return nil
}

// Retry は失敗したコレクションの再取得を手動で行う。
func (v *View) Retry(ctx context.Context, c Collection) error {
	return v.Refetch(ctx, c)
}

// RefetchAll は全コレクションを取得し直す。追い越された応答はエラーとしない。
func (v *View) RefetchAll(ctx context.Context) error {
	return v.refetch(ctx, CollectionUsers, CollectionProviders, CollectionRequests)
}

func (v *View) refetch(ctx context.Context, cs ...Collection) error {
	var errs []error
	for _, c := range cs {
		if err := v.Refetch(ctx, c); err != nil && !errors.Is(err, ErrSuperseded) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Decide は承認リクエストのステータスを楽観的に更新してからサーバーに送信する。
// サーバーが失敗した場合は楽観的な値を元に戻し、そのエラーを返す。
// 成否に関わらず最後に承認リクエストとプロバイダーを再取得し、サーバーの値で上書きする。
func (v *View) Decide(ctx context.Context, requestID string, outcome model.ApprovalStatus) (*model.ApprovalDecision, error) {
	v.mu.Lock()
	appliedAtFlip := v.applied[CollectionRequests]
	var (
		prev    model.ApprovalStatus
		flipped bool
	)
	if i := v.indexOfRequest(requestID); i >= 0 {
		prev = v.requests[i].Status
		v.requests[i].Status = outcome
		flipped = true
	}
	v.mu.Unlock()
	if flipped {
		v.onChange(CollectionRequests)
	}

	decision, err := v.api.Decide(ctx, requestID, outcome)
	if err != nil {
		if flipped && v.rollback(requestID, outcome, prev, appliedAtFlip) {
			v.onChange(CollectionRequests)
		}
		v.logger.Warn("decision rejected by server",
			slog.String("request_id", requestID),
			slog.String("outcome", string(outcome)),
			slog.String("error", err.Error()),
		)
	}

	if refetchErr := v.refetch(ctx, CollectionRequests, CollectionProviders); refetchErr != nil {
		v.logger.Warn("refetch after decision failed", slog.String("error", refetchErr.Error()))
	}

	if err != nil {
		return nil, err
	}
	return decision, nil
}

// rollback は楽観的に書き換えた値を元に戻す。
// その間に再取得が反映されていればサーバーの値を優先し、何もしない。
func (v *View) rollback(requestID string, optimistic, prev model.ApprovalStatus, appliedAtFlip uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.applied[CollectionRequests] != appliedAtFlip {
		return false
	}
	i := v.indexOfRequest(requestID)
	if i < 0 || v.requests[i].Status != optimistic {
		return false
	}
	v.requests[i].Status = prev
	return true
}

func (v *View) indexOfRequest(id string) int {
	return slices.IndexFunc(v.requests, func(r model.ApprovalRequestWithProvider) bool {
		return r.ID == id
	})
}

// Attach はプッシュイベントごとに影響するコレクションを再取得するハンドラーを登録する。
// 再取得はイベント受信ループを止めないよう別goroutineで行い、世代番号で古い応答を捨てる。
func (v *View) Attach(ctx context.Context, bus *EventBus) {
	bus.OnNewUserRegistration(func(UserRegistration) {
		go v.refetchInBackground(ctx, CollectionUsers)
	})
	bus.OnNewProviderRegistration(func(ProviderRegistration) {
		go v.refetchInBackground(ctx, CollectionProviders, CollectionRequests)
	})
	bus.OnApprovalStatusUpdate(func(model.ApprovalDecision) {
		go v.refetchInBackground(ctx, CollectionRequests, CollectionProviders)
	})
}

func (v *View) refetchInBackground(ctx context.Context, cs ...Collection) {
	if err := v.refetch(ctx, cs...); err != nil && ctx.Err() == nil {
		v.logger.Warn("event-driven refetch failed", slog.String("error", err.Error()))
	}
}
