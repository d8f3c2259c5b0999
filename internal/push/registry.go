// Package push は管理画面へのリアルタイム配信を提供する。
//
// Registry は接続中のセッションをロールごとのルームで管理し、
// イベントを非同期にファンアウトする。配信は投げっぱなしで、
// 送信キューが満杯の接続ではイベントを破棄してログに記録する。
package push

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/mandapadmin/internal/metrics"
	"github.com/hitoshi/mandapadmin/internal/model"
)

// DefaultBufferSize は接続ごとの送信キューの既定サイズ。
const DefaultBufferSize = 64

// ErrRoomConflict は接続が既に別のルームに参加していることを表す。
var ErrRoomConflict = errors.New("connection already joined a different room")

// Identity はプッシュ接続の所有者を表す。
type Identity struct {
	Role model.Role
	ID   string
}

// Room はIdentityが参加するルーム名を返す。
func (i Identity) Room() string {
	return i.Role.Room(i.ID)
}

type connection struct {
	id       string
	identity Identity
	send     chan Event
}

// Registry は接続IDとIdentityの対応を保持する。
// 送信はブロックしないため、配信中に読み取りロックより長く待つことはない。
type Registry struct {
	mu         sync.RWMutex
	conns      map[string]*connection // connectionID -> connection
	bufferSize int
	logger     *slog.Logger
	metrics    metrics.Recorder
}

// NewRegistry はRegistryを生成する。bufferSizeが0以下の場合はDefaultBufferSizeを使う。
func NewRegistry(bufferSize int, logger *slog.Logger, rec metrics.Recorder) *Registry {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Registry{
		conns:      make(map[string]*connection),
		bufferSize: bufferSize,
		logger:     logger.With("component", "push_registry"),
		metrics:    rec,
	}
}

// Register は接続をIdentityのルームに参加させ、イベント受信用のチャネルを返す。
// 同じIdentityでの再参加は冪等で、既存のチャネルを返す。
// 別のIdentityで参加しようとした場合はErrRoomConflictを返す。
func (r *Registry) Register(connectionID string, identity Identity) (<-chan Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.conns[connectionID]; ok {
		if existing.identity != identity {
			return nil, fmt.Errorf("%w: %s", ErrRoomConflict, existing.identity.Room())
		}
		return existing.send, nil
	}

	conn := &connection{
		id:       connectionID,
		identity: identity,
		send:     make(chan Event, r.bufferSize),
	}
	r.conns[connectionID] = conn
	r.metrics.SetPushConnections(len(r.conns))

	r.logger.Info("connection joined room",
		slog.String("connection_id", connectionID),
		slog.String("room", identity.Room()),
	)
	return conn.send, nil
}

// Unregister は接続をルームから外し、受信チャネルを閉じる。
// 未登録の接続IDに対しては何もしない。
func (r *Registry) Unregister(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connectionID]
	if !ok {
		return
	}
	delete(r.conns, connectionID)
	close(conn.send)
	r.metrics.SetPushConnections(len(r.conns))

	r.logger.Info("connection left room",
		slog.String("connection_id", connectionID),
		slog.String("room", conn.identity.Room()),
	)
}

// Broadcast は指定ロールの全接続にイベントを送る。
// 送信キューに積めた接続数を返す。
func (r *Registry) Broadcast(role model.Role, event Event) int {
	return r.deliver(event, func(conn *connection) bool {
		return conn.identity.Role == role
	})
}

// SendTo は指定Identityのルームにのみイベントを送る。
func (r *Registry) SendTo(identity Identity, event Event) int {
	return r.deliver(event, func(conn *connection) bool {
		return conn.identity == identity
	})
}

// deliver は条件に合う接続の送信キューへイベントをブロックせずに積む。
// 読み取りロックはキューへの投入の間だけ保持し、Unregisterによるチャネルのクローズと競合しない。
func (r *Registry) deliver(event Event, match func(*connection) bool) int {
	var (
		queued  int
		dropped []*connection
	)

	r.mu.RLock()
	for _, conn := range r.conns {
		if !match(conn) {
			continue
		}
		select {
		case conn.send <- event:
			queued++
		default:
			dropped = append(dropped, conn)
		}
	}
	r.mu.RUnlock()

	for i := 0; i < queued; i++ {
		r.metrics.RecordPush(event.Name, metrics.PushQueued)
	}
	for _, conn := range dropped {
		r.metrics.RecordPush(event.Name, metrics.PushDropped)
		r.logger.Warn("push event dropped",
			slog.String("connection_id", conn.id),
			slog.String("room", conn.identity.Room()),
			slog.String("event", event.Name),
			slog.String("error", fmt.Errorf("%w: send queue full", model.ErrDelivery).Error()),
		)
	}
	return queued
}

// Count は登録中の接続数を返す。
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Close は全接続の受信チャネルを閉じる。
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, conn := range r.conns {
		close(conn.send)
		delete(r.conns, id)
	}
	r.metrics.SetPushConnections(0)
}
