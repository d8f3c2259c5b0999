package adminclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/hitoshi/mandapadmin/internal/push"
)

const (
	// initialReconnectDelay は再接続の初回待機時間。
	initialReconnectDelay = time.Second
	// maxReconnectDelay は再接続待機時間の上限。
	maxReconnectDelay = 30 * time.Second
)

// ReconnectBackoff は連続失敗回数に基づく再接続までの待機時間を返す。
// 初回1秒、2倍ずつ増加、最大30秒。
func ReconnectBackoff(consecutiveFailures int) time.Duration {
	delay := initialReconnectDelay
	for i := 0; i < consecutiveFailures; i++ {
		delay *= 2
		if delay > maxReconnectDelay {
			return maxReconnectDelay
		}
	}
	return delay
}

// PushClient は /admin/socket に接続し、受信したフレームをEventBusへ流す。
type PushClient struct {
	client  *Client
	bus     *EventBus
	logger  *slog.Logger
	backoff func(consecutiveFailures int) time.Duration

	// OnConnect はサーバーから参加確認を受け取るたびに呼ばれる。再接続中に取りこぼしたイベントを補うため、
	// Viewの全件再取得に使う。
	OnConnect func(ctx context.Context)
}

// NewPushClient はPushClientを生成する。
func NewPushClient(client *Client, bus *EventBus, logger *slog.Logger) *PushClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &PushClient{
		client:  client,
		bus:     bus,
		logger:  logger.With("component", "push_client"),
		backoff: ReconnectBackoff,
	}
}

func (p *PushClient) socketURL() string {
	u := p.client.BaseURL().JoinPath("/admin/socket")
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}

// Run はコンテキストがキャンセルされるまで接続を維持する。
// 切断時は指数バックオフで再接続する。連続失敗回数はサーバーの参加確認を受け取った時点で0に戻る。
// 認証エラーの場合は再接続せずに返す。
func (p *PushClient) Run(ctx context.Context, adminID string) error {
	failures := 0
	for {
		err := p.connectOnce(ctx, adminID, func() { failures = 0 })
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, errUnauthorized) {
			return err
		}

		delay := p.backoff(failures)
		failures++
		p.logger.Warn("push connection lost",
			slog.String("error", errString(err)),
			slog.Duration("retry_in", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

var errUnauthorized = errors.New("push connection unauthorized")

func (p *PushClient) connectOnce(ctx context.Context, adminID string, joined func()) error {
	conn, resp, err := websocket.Dial(ctx, p.socketURL(), &websocket.DialOptions{
		HTTPClient: p.client.HTTPClient(),
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == 401 || resp.StatusCode == 403) {
			return fmt.Errorf("%w: status %d", errUnauthorized, resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()

	join := push.Event{Name: push.EventJoinAdminRoom, Data: adminID}
	if err := wsjson.Write(ctx, conn, join); err != nil {
		return fmt.Errorf("join: %w", err)
	}

	// サーバーがルームへの登録を終えるまで待つ。
	var ack Frame
	if err := wsjson.Read(ctx, conn, &ack); err != nil {
		return fmt.Errorf("await joined: %w", err)
	}
	if ack.Event != push.EventJoined {
		return fmt.Errorf("await joined: unexpected event %q", ack.Event)
	}
	joined()
	p.logger.Info("push connected", slog.String("admin_id", adminID))

	if p.OnConnect != nil {
		p.OnConnect(ctx)
	}

	for {
		var f Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if err := p.bus.Dispatch(f); err != nil {
			p.logger.Warn("invalid push frame", slog.String("event", f.Event), slog.String("error", err.Error()))
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
