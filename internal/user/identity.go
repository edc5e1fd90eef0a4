package user

import (
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"github.com/SlpAus/uvbunny-backend/internal/platform/apperr"
)

const maxUserIDLength = 128

// IdentityProvider 从请求中解析当前用户ID
type IdentityProvider interface {
	UserID(r *http.Request) (string, error)
}

// HeaderIdentity 信任网关注入的请求头，例如 X-User-ID。
// 认证本身由前置的身份提供方完成。
type HeaderIdentity struct {
	Header string
}

func NewHeaderIdentity(header string) *HeaderIdentity {
	if header == "" {
		header = "X-User-ID"
	}
	return &HeaderIdentity{Header: header}
}

func (h *HeaderIdentity) UserID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(h.Header))
	if err := ValidateID(id); err != nil {
		return "", err
	}
	return id, nil
}

// ValidateID 要求ID为1-128个可打印字符
func ValidateID(id string) error {
	if id == "" {
		return apperr.ErrUnauthenticated
	}
	if len(id) > maxUserIDLength {
		return fmt.Errorf("%w: user id too long", apperr.ErrUnauthenticated)
	}
	for _, r := range id {
		if !unicode.IsPrint(r) {
			return fmt.Errorf("%w: user id contains non-printable characters", apperr.ErrUnauthenticated)
		}
	}
	return nil
}
