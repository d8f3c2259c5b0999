package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/mandapadmin/internal/model"
)

const providerColumns = `id, name, email, phone_number, password_hash, created_at`

// PostgresProviderRepo はPostgreSQLを使用したプロバイダーリポジトリ。
type PostgresProviderRepo struct {
	db *sql.DB
}

// NewPostgresProviderRepo はPostgresProviderRepoを生成する。
func NewPostgresProviderRepo(db *sql.DB) *PostgresProviderRepo {
	return &PostgresProviderRepo{db: db}
}

func scanProvider(row rowScanner) (*model.Provider, error) {
	p := &model.Provider{}
	if err := row.Scan(&p.ID, &p.Name, &p.Email, &p.PhoneNumber, &p.PasswordHash, &p.CreatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

// FindByID は指定IDのプロバイダーを取得する。見つからない場合はnilを返す。
func (r *PostgresProviderRepo) FindByID(ctx context.Context, id string) (*model.Provider, error) {
	p, err := scanProvider(r.db.QueryRowContext(ctx,
		`SELECT `+providerColumns+` FROM providers WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find provider by ID: %w", err)
	}
	return p, nil
}

// CreateWithRequest はプロバイダーと保留中の承認リクエストを同一トランザクションで作成する。
// どちらか一方だけが永続化されることはない。
func (r *PostgresProviderRepo) CreateWithRequest(ctx context.Context, provider *model.Provider, request *model.ApprovalRequest) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := reserveEmail(ctx, tx, provider.Email, model.RoleProvider); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO providers (id, name, email, phone_number, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		provider.ID, provider.Name, provider.Email, provider.PhoneNumber, provider.PasswordHash, provider.CreatedAt,
	)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("failed to insert provider: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO approval_requests (id, provider_id, status, created_at)
		 VALUES ($1, $2, $3, $4)`,
		request.ID, request.ProviderID, string(request.Status), request.CreatedAt,
	)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("failed to insert approval request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// List は全プロバイダーを作成日時の降順で返す。
func (r *PostgresProviderRepo) List(ctx context.Context) ([]*model.Provider, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+providerColumns+` FROM providers ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	return collectProviders(rows)
}

// Search は名称・メールアドレス・電話番号の部分一致でプロバイダーを検索する。
func (r *PostgresProviderRepo) Search(ctx context.Context, query string) ([]*model.Provider, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+providerColumns+` FROM providers
		 WHERE name ILIKE $1 OR email ILIKE $1 OR phone_number ILIKE $1
		 ORDER BY created_at DESC`,
		likePattern(query),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search providers: %w", err)
	}
	return collectProviders(rows)
}

// Count はプロバイダー数を返す。
func (r *PostgresProviderRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM providers`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count providers: %w", err)
	}
	return count, nil
}

func collectProviders(rows *sql.Rows) ([]*model.Provider, error) {
	defer rows.Close()

	providers := []*model.Provider{}
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		providers = append(providers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate providers: %w", err)
	}
	return providers, nil
}

// compile-time interface check
var _ ProviderRepository = (*PostgresProviderRepo)(nil)
