package service

import (
	"crypto/subtle"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tailpay/config"
	"tailpay/internal/auth"
	"tailpay/internal/domain"
)

var (
	ErrInvalidCreds  = errors.New("invalid username or password")
	ErrAdminDisabled = errors.New("admin login is not configured")
)

// AuthService authenticates the operator account configured through the
// environment and issues access tokens for the admin API.
type AuthService struct {
	cfg *config.Config
}

func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{cfg: cfg}
}

func (s *AuthService) Login(username, password string) (string, time.Time, error) {
	admin := s.cfg.Admin
	if admin.PasswordHash == "" {
		return "", time.Time{}, ErrAdminDisabled
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(admin.Username)) == 1
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil || !userOK {
		return "", time.Time{}, ErrInvalidCreds
	}
	return auth.GenerateAccessToken(&s.cfg.JWT, admin.Username, domain.RoleAdmin)
}
