// Package validate はアカウント登録入力の検証規則をまとめる。
package validate

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/nyaruka/phonenumbers"

	"github.com/hitoshi/mandapadmin/internal/model"
)

const (
	// MinPasswordLength はパスワードの最小文字数。
	MinPasswordLength = 8
	// MaxPasswordLength はbcryptが扱える上限バイト数。
	MaxPasswordLength = 72
)

var errInvalidPhone = errors.New("電話番号の形式が正しくありません")

// Account はユーザー・プロバイダー共通の登録入力。
type Account struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	Password    string `json:"password"`
}

// Normalize は前後の空白を除去し、メールアドレスを小文字化する。
func (a *Account) Normalize() {
	a.Name = strings.TrimSpace(a.Name)
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	a.PhoneNumber = strings.TrimSpace(a.PhoneNumber)
}

// Validate は入力を検証し、電話番号をE.164形式に正規化する。
// nameField は氏名フィールドのエラーキー（fullName または name）。
// 検証エラーはフィールド単位のValidationErrorとして返す。
func (a *Account) Validate(nameField, region string) error {
	a.Normalize()
	err := validation.ValidateStruct(a,
		validation.Field(&a.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&a.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&a.PhoneNumber, validation.Required, Phone(region)),
		validation.Field(&a.Password, validation.Required, validation.Length(MinPasswordLength, MaxPasswordLength)),
	)
	if err != nil {
		apiErr := ToAPIError(err)
		if fields := apiErrorFields(apiErr); fields != nil && nameField != "" && nameField != "name" {
			if msg, ok := fields["name"]; ok {
				delete(fields, "name")
				fields[nameField] = msg
			}
		}
		return apiErr
	}

	normalized, _ := NormalizePhone(a.PhoneNumber, region)
	a.PhoneNumber = normalized
	return nil
}

// Phone は電話番号として解釈できる文字列のみを許可するルールを返す。
// 国番号のない番号は region の番号として解釈する。
func Phone(region string) validation.Rule {
	return validation.By(func(value interface{}) error {
		s, _ := value.(string)
		if s == "" {
			return nil
		}
		if _, err := NormalizePhone(s, region); err != nil {
			return errInvalidPhone
		}
		return nil
	})
}

// NormalizePhone は電話番号を解析し、E.164形式で返す。
func NormalizePhone(raw, region string) (string, error) {
	num, err := phonenumbers.Parse(raw, strings.ToUpper(region))
	if err != nil {
		return "", err
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", errInvalidPhone
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// ToAPIError はozzo-validationの検証エラーをValidationErrorに変換する。
// それ以外のエラーはそのまま返す。
func ToAPIError(err error) error {
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for field, ferr := range verrs {
		if ferr == nil {
			continue
		}
		fields[field] = ferr.Error()
	}
	return model.NewValidationError(fields)
}

func apiErrorFields(err error) map[string]string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Fields
	}
	return nil
}
