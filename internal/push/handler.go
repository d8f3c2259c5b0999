package push

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/hitoshi/mandapadmin/internal/model"
)

const (
	defaultPingInterval = 30 * time.Second
	joinTimeout         = 10 * time.Second
	writeTimeout        = 10 * time.Second
)

// IdentityFunc は認証済みリクエストからIdentityを取り出す。
type IdentityFunc func(r *http.Request) (Identity, bool)

// clientMessage はクライアントから届くフレーム。
type clientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// HandlerOptions はWebSocketハンドラーの設定。
type HandlerOptions struct {
	// OriginPatterns はクロスオリジン接続を許可するホストのパターン。
	OriginPatterns []string
	// PingInterval はキープアライブのping間隔。0の場合は30秒。
	PingInterval time.Duration
}

// Handler は GET /admin/socket のWebSocketエンドポイント。
type Handler struct {
	registry *Registry
	identify IdentityFunc
	opts     HandlerOptions
	logger   *slog.Logger
}

// NewHandler はHandlerを生成する。
func NewHandler(registry *Registry, identify IdentityFunc, opts HandlerOptions, logger *slog.Logger) *Handler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: registry,
		identify: identify,
		opts:     opts,
		logger:   logger.With("component", "push_handler"),
	}
}

// ServeHTTP はWebSocketへのアップグレード後、joinAdminRoomを待ってルームに参加させ、
// joinedを返してから切断までイベントを書き出す。
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identify(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.opts.OriginPatterns,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	connectionID := uuid.NewString()
	log := h.logger.With(
		slog.String("connection_id", connectionID),
		slog.String("room", identity.Room()),
	)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := h.awaitJoin(ctx, conn, identity); err != nil {
		log.Warn("join rejected", slog.String("error", err.Error()))
		conn.Close(websocket.StatusPolicyViolation, "join rejected")
		return
	}

	events, err := h.registry.Register(connectionID, identity)
	if err != nil {
		log.Warn("register failed", slog.String("error", err.Error()))
		conn.Close(websocket.StatusPolicyViolation, "room conflict")
		return
	}
	defer h.registry.Unregister(connectionID)

	ackCtx, ackCancel := context.WithTimeout(ctx, writeTimeout)
	err = wsjson.Write(ackCtx, conn, Joined(identity.Room()))
	ackCancel()
	if err != nil {
		log.Info("join ack failed", slog.String("error", err.Error()))
		return
	}

	// 読み取りループ: pongの処理と切断検知、再joinの検証を行う
	go func() {
		defer cancel()
		for {
			var msg clientMessage
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				return
			}
			if msg.Event != EventJoinAdminRoom {
				continue
			}
			if !joinMatches(msg, identity) {
				log.Warn("rejoin with different identity")
				conn.Close(websocket.StatusPolicyViolation, "room conflict")
				return
			}
		}
	}()

	h.writeLoop(ctx, conn, events, log)
}

func (h *Handler) awaitJoin(ctx context.Context, conn *websocket.Conn, identity Identity) error {
	joinCtx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()

	var msg clientMessage
	if err := wsjson.Read(joinCtx, conn, &msg); err != nil {
		return err
	}
	if msg.Event != EventJoinAdminRoom {
		return errors.New("first message must be " + EventJoinAdminRoom)
	}
	if !joinMatches(msg, identity) {
		return errors.New("room id does not match session")
	}
	return nil
}

func joinMatches(msg clientMessage, identity Identity) bool {
	if identity.Role != model.RoleAdmin {
		return false
	}
	var id string
	if err := json.Unmarshal(msg.Data, &id); err != nil {
		return false
	}
	return id == identity.ID
}

func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, events <-chan Event, log *slog.Logger) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()
			if err != nil {
				log.Warn("push write failed",
					slog.String("event", ev.Name),
					slog.String("error", errors.Join(model.ErrDelivery, err).Error()),
				)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				log.Info("ping failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}
