package repository

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

var (
	// ErrDuplicateEmail はメールアドレスが既に使用されていることを表す。
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrDuplicateRequest は同一プロバイダーの承認リクエストが既に存在することを表す。
	ErrDuplicateRequest = errors.New("approval request already exists for provider")
)

// pqUniqueViolation はPostgreSQLのunique_violationエラーコード。
const pqUniqueViolation = "23505"

// uniqueViolation はerrがunique_violationの場合に違反した制約名を返す。
func uniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return "", false
	}
	if pqErr.Code != pqUniqueViolation {
		return "", false
	}
	return pqErr.Constraint, true
}

// mapUniqueViolation は制約名に応じてunique_violationをドメインのセンチネルエラーへ変換する。
// 該当しない場合は元のエラーをそのまま返す。
func mapUniqueViolation(err error) error {
	constraint, ok := uniqueViolation(err)
	if !ok {
		return err
	}
	switch {
	case strings.Contains(constraint, "email"):
		return ErrDuplicateEmail
	case strings.Contains(constraint, "provider_id"):
		return ErrDuplicateRequest
	default:
		return err
	}
}

// likePattern はILIKE用に検索語をエスケープして部分一致パターンを生成する。
func likePattern(query string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.TrimSpace(query)) + "%"
}
