package adminclient

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hitoshi/mandapadmin/internal/model"
	"github.com/hitoshi/mandapadmin/internal/push"
)

// Frame はサーバーから届くプッシュフレーム。
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// UserRegistration は newUserRegistration イベントのペイロード。
type UserRegistration struct {
	Notification *model.Notification `json:"notification"`
	User         *model.User         `json:"user"`
}

// ProviderRegistration は newProviderRegistration イベントのペイロード。
type ProviderRegistration struct {
	Notification *model.Notification `json:"notification"`
	Provider     *model.Provider     `json:"provider"`
}

// EventBus はプッシュイベントを型付きのハンドラーへ振り分ける。
// 配信は少なくとも1回で、イベント間の順序は保証しない。
type EventBus struct {
	mu        sync.RWMutex
	users     []func(UserRegistration)
	providers []func(ProviderRegistration)
	approvals []func(model.ApprovalDecision)
}

// NewEventBus はEventBusを生成する。
func NewEventBus() *EventBus {
	return &EventBus{}
}

// OnNewUserRegistration はユーザー登録イベントのハンドラーを登録する。
func (b *EventBus) OnNewUserRegistration(fn func(UserRegistration)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users = append(b.users, fn)
}

// OnNewProviderRegistration はプロバイダー登録イベントのハンドラーを登録する。
func (b *EventBus) OnNewProviderRegistration(fn func(ProviderRegistration)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.providers = append(b.providers, fn)
}

// OnApprovalStatusUpdate は承認状態変更イベントのハンドラーを登録する。
func (b *EventBus) OnApprovalStatusUpdate(fn func(model.ApprovalDecision)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.approvals = append(b.approvals, fn)
}

// Dispatch はフレームをデコードし、該当するハンドラーを呼び出す。
// 未知のイベントは無視する。
func (b *EventBus) Dispatch(f Frame) error {
	switch f.Event {
	case push.EventNewUserRegistration:
		var p UserRegistration
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", f.Event, err)
		}
		b.mu.RLock()
		handlers := b.users
		b.mu.RUnlock()
		for _, fn := range handlers {
			fn(p)
		}
	case push.EventNewProviderRegistration:
		var p ProviderRegistration
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", f.Event, err)
		}
		b.mu.RLock()
		handlers := b.providers
		b.mu.RUnlock()
		for _, fn := range handlers {
			fn(p)
		}
	case push.EventApprovalStatusUpdate:
		var d model.ApprovalDecision
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return fmt.Errorf("decode %s: %w", f.Event, err)
		}
		b.mu.RLock()
		handlers := b.approvals
		b.mu.RUnlock()
		for _, fn := range handlers {
			fn(d)
		}
	}
	return nil
}
