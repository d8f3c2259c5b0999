package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/mandapadmin/internal/model"
)

const approvalColumns = `id, provider_id, status, created_at, decided_at, decided_by`

// PostgresApprovalRepo はPostgreSQLを使用した承認リクエストリポジトリ。
type PostgresApprovalRepo struct {
	db *sql.DB
}

// NewPostgresApprovalRepo はPostgresApprovalRepoを生成する。
func NewPostgresApprovalRepo(db *sql.DB) *PostgresApprovalRepo {
	return &PostgresApprovalRepo{db: db}
}

func scanApprovalRequest(row rowScanner, extra ...any) (*model.ApprovalRequest, error) {
	req := &model.ApprovalRequest{}
	var (
		status    string
		decidedAt sql.NullTime
		decidedBy sql.NullString
	)
	dest := append([]any{&req.ID, &req.ProviderID, &status, &req.CreatedAt, &decidedAt, &decidedBy}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	req.Status = model.ApprovalStatus(status)
	if decidedAt.Valid {
		t := decidedAt.Time
		req.DecidedAt = &t
	}
	if decidedBy.Valid {
		s := decidedBy.String
		req.DecidedBy = &s
	}
	return req, nil
}

// Create は承認リクエストを作成する。
// provider_idのユニーク制約違反はErrDuplicateRequestとして返す。
func (r *PostgresApprovalRepo) Create(ctx context.Context, req *model.ApprovalRequest) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO approval_requests (id, provider_id, status, created_at)
		 VALUES ($1, $2, $3, $4)`,
		req.ID, req.ProviderID, string(req.Status), req.CreatedAt,
	)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("failed to create approval request: %w", err)
	}
	return nil
}

// FindByID は指定IDの承認リクエストを取得する。見つからない場合はnilを返す。
func (r *PostgresApprovalRepo) FindByID(ctx context.Context, id string) (*model.ApprovalRequest, error) {
	req, err := scanApprovalRequest(r.db.QueryRowContext(ctx,
		`SELECT `+approvalColumns+` FROM approval_requests WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find approval request: %w", err)
	}
	return req, nil
}

// FindByProviderID はプロバイダーIDで承認リクエストを取得する。見つからない場合はnilを返す。
func (r *PostgresApprovalRepo) FindByProviderID(ctx context.Context, providerID string) (*model.ApprovalRequest, error) {
	req, err := scanApprovalRequest(r.db.QueryRowContext(ctx,
		`SELECT `+approvalColumns+` FROM approval_requests WHERE provider_id = $1`,
		providerID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find approval request by provider: %w", err)
	}
	return req, nil
}

// List は承認リクエストをプロバイダー情報とJOINして返す。
func (r *PostgresApprovalRepo) List(ctx context.Context, status model.ApprovalStatus) ([]model.ApprovalRequestWithProvider, error) {
	query := `SELECT ar.id, ar.provider_id, ar.status, ar.created_at, ar.decided_at, ar.decided_by,
		        p.id, p.name, p.email, p.phone_number, p.created_at
		 FROM approval_requests ar
		 INNER JOIN providers p ON p.id = ar.provider_id`
	var args []any
	if status != "" {
		query += ` WHERE ar.status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY ar.created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list approval requests: %w", err)
	}
	defer rows.Close()

	result := []model.ApprovalRequestWithProvider{}
	for rows.Next() {
		var p model.Provider
		req, err := scanApprovalRequest(rows, &p.ID, &p.Name, &p.Email, &p.PhoneNumber, &p.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval request: %w", err)
		}
		result = append(result, model.ApprovalRequestWithProvider{ApprovalRequest: *req, Provider: p})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate approval requests: %w", err)
	}
	return result, nil
}

// Decide は保留中の承認リクエストを終端状態へ遷移させる。
// WHERE status = 'pending' を条件とした比較交換のため、同時に複数の判定が
// 到達しても最初の1件だけが成功する。対象が保留中でない場合はnilを返す。
func (r *PostgresApprovalRepo) Decide(ctx context.Context, id string, outcome model.ApprovalStatus, adminID string, decidedAt time.Time) (*model.ApprovalRequest, error) {
	req, err := scanApprovalRequest(r.db.QueryRowContext(ctx,
		`UPDATE approval_requests
		 SET status = $2, decided_at = $3, decided_by = $4
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+approvalColumns,
		id, string(outcome), decidedAt, adminID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decide approval request: %w", err)
	}
	return req, nil
}

// CountByStatus はステータスごとの件数を返す。件数0のステータスも0として含める。
func (r *PostgresApprovalRepo) CountByStatus(ctx context.Context) (map[model.ApprovalStatus]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM approval_requests GROUP BY status`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count approval requests: %w", err)
	}
	defer rows.Close()

	counts := map[model.ApprovalStatus]int{
		model.ApprovalPending:  0,
		model.ApprovalApproved: 0,
		model.ApprovalRejected: 0,
	}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan approval count: %w", err)
		}
		counts[model.ApprovalStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate approval counts: %w", err)
	}
	return counts, nil
}

// compile-time interface check
var _ ApprovalRepository = (*PostgresApprovalRepo)(nil)
