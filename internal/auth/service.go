// Package auth は管理者のパスワード認証とセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/mandapadmin/internal/model"
	"github.com/hitoshi/mandapadmin/internal/repository"
	"github.com/hitoshi/mandapadmin/internal/validate"
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
	BcryptCost    int
}

// SignupInput は管理者登録の入力。
type SignupInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	adminRepo   repository.AdminRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	now         func() time.Time

	// dummyHash は存在しないメールアドレスでも照合時間を揃えるためのハッシュ。
	dummyHash []byte
}

// NewService はServiceを生成する。
func NewService(
	adminRepo repository.AdminRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("mandapadmin-dummy-password"), config.BcryptCost)
	return &Service{
		adminRepo:   adminRepo,
		sessionRepo: sessionRepo,
		config:      config,
		now:         time.Now,
		dummyHash:   dummy,
	}
}

// Signup は管理者アカウントを作成する。
func (s *Service) Signup(ctx context.Context, in SignupInput) (*model.Admin, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	err := validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.Email, validation.Required, is.Email),
		validation.Field(&in.Password, validation.Required, validation.Length(validate.MinPasswordLength, validate.MaxPasswordLength)),
	)
	if err != nil {
		return nil, validate.ToAPIError(err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	admin := &model.Admin{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	}
	if err := s.adminRepo.Create(ctx, admin); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewDuplicateEmailError()
		}
		return nil, model.NewStorageError(err)
	}

	slog.Info("admin created", slog.String("admin_id", admin.ID))
	return admin, nil
}

// Login はメールアドレスとパスワードを照合し、セッションを発行する。
// 照合に失敗した場合は理由を区別せずInvalidCredentialsErrorを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*model.Session, *model.Admin, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, nil, model.NewInvalidCredentialsError()
	}

	admin, err := s.adminRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, model.NewStorageError(err)
	}
	if admin == nil {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, nil, model.NewInvalidCredentialsError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		slog.Info("admin login failed", slog.String("admin_id", admin.ID))
		return nil, nil, model.NewInvalidCredentialsError()
	}

	session, err := s.createSession(ctx, admin.ID)
	if err != nil {
		return nil, nil, model.NewStorageError(err)
	}

	slog.Info("admin logged in", slog.String("admin_id", admin.ID))
	return session, admin, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("admin logged out")
	return nil
}

// GetCurrentAdmin は管理者IDから現在の管理者を取得する。
func (s *Service) GetCurrentAdmin(ctx context.Context, adminID string) (*model.Admin, error) {
	if adminID == "" {
		return nil, model.NewUnauthorizedError()
	}

	admin, err := s.adminRepo.FindByID(ctx, adminID)
	if err != nil {
		return nil, model.NewStorageError(err)
	}
	if admin == nil {
		return nil, model.NewNotFoundError("管理者", adminID)
	}
	return admin, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, adminID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		AdminID:   adminID,
		Role:      model.RoleAdmin,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
