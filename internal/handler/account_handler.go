package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/mandapadmin/internal/account"
	"github.com/hitoshi/mandapadmin/internal/model"
)

// AccountServiceInterface はアカウントハンドラーが必要とするサービスインターフェース。
type AccountServiceInterface interface {
	AddUser(ctx context.Context, in account.UserInput) (*model.User, error)
	ListUsers(ctx context.Context) ([]*model.User, error)
	ListProviders(ctx context.Context) ([]*model.Provider, error)
	SearchUsers(ctx context.Context, query string) ([]*model.User, error)
	SearchProviders(ctx context.Context, query string) ([]*model.Provider, error)
	Stats(ctx context.Context) (*model.AccountStats, error)
}

// AccountHandler はユーザー・プロバイダーの一覧と検索のHTTPハンドラー。
type AccountHandler struct {
	service AccountServiceInterface
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(service AccountServiceInterface) *AccountHandler {
	return &AccountHandler{service: service}
}

type addUserRequest struct {
	FullName    string `json:"fullName"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	Password    string `json:"password"`
}

// AddUser は管理者がユーザーを登録する。
// POST /admin/add-user
func (h *AccountHandler) AddUser(w http.ResponseWriter, r *http.Request) {
	var req addUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeInvalidBody(w)
		return
	}

	user, err := h.service.AddUser(r.Context(), account.UserInput{
		FullName:    req.FullName,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
		Password:    req.Password,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// ListUsers はユーザー一覧を返す。
// GET /admin/users
func (h *AccountHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if users == nil {
		users = []*model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// ListProviders はプロバイダー一覧を返す。
// GET /admin/providers
func (h *AccountHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.service.ListProviders(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if providers == nil {
		providers = []*model.Provider{}
	}
	writeJSON(w, http.StatusOK, providers)
}

// SearchUsers はユーザーを部分一致で検索する。
// GET /admin/search-users?query=xxx
func (h *AccountHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.SearchUsers(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if users == nil {
		users = []*model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// SearchProviders はプロバイダーを部分一致で検索する。
// GET /admin/search-providers?query=xxx
func (h *AccountHandler) SearchProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.service.SearchProviders(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if providers == nil {
		providers = []*model.Provider{}
	}
	writeJSON(w, http.StatusOK, providers)
}

// Stats はアカウント数と承認状況の集計を返す。
// GET /admin/stats
func (h *AccountHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
