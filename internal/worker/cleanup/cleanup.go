// Package cleanup は期限切れ管理者セッションの定期削除ジョブを提供する。
// 削除後に有効セッション数を数え、メトリクスのゲージに反映する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/mandapadmin/internal/metrics"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ActiveSessionCounter は有効期限内のセッション数を返す。
// repository.SessionRepositoryの部分集合。
type ActiveSessionCounter interface {
	CountActive(ctx context.Context) (int, error)
}

// CleanupJob は有効期限を過ぎたセッションの削除ジョブ。
// 冪等で、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	db      Executor
	counter ActiveSessionCounter
	metrics metrics.Recorder
	logger  *slog.Logger
	// Grace は期限切れから削除までの猶予。
	Grace time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, counter ActiveSessionCounter, rec metrics.Recorder, logger *slog.Logger) *CleanupJob {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		db:      db,
		counter: counter,
		metrics: rec,
		logger:  logger.With("component", "session_cleanup"),
	}
}

// Run は期限切れセッションを削除し、有効セッション数のゲージを更新する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	cutoff := start.Add(-j.Grace)
	result, err := j.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, cutoff)
	if err != nil {
		j.logger.Error("セッションクリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	active, err := j.counter.CountActive(ctx)
	if err != nil {
		j.logger.Warn("有効セッション数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
	} else {
		j.metrics.SetActiveSessions(active)
	}

	j.logger.Info("セッションクリーンアップが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("active_sessions", active),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、その後interval間隔で実行する。
// コンテキストがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil && ctx.Err() == nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
