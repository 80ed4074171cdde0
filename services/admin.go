package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrAdminNotConfigured = errors.New("admin credentials not configured")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

const adminIssuer = "donation-desk"

type AdminConfig struct {
	Email        string
	PasswordHash string // bcrypt
	JWTSecret    string
	TokenTTL     time.Duration
}

// AdminAuth issues and checks admin session tokens.
type AdminAuth struct {
	config AdminConfig
	now    func() time.Time
}

func NewAdminAuth(config AdminConfig) *AdminAuth {
	if config.TokenTTL <= 0 {
		config.TokenTTL = 12 * time.Hour
	}
	return &AdminAuth{config: config, now: time.Now}
}

func (a *AdminAuth) Configured() bool {
	return a.config.Email != "" && a.config.PasswordHash != "" && a.config.JWTSecret != ""
}

// Login checks the admin email and password and returns a signed token.
func (a *AdminAuth) Login(email, password string) (string, time.Time, error) {
	if !a.Configured() {
		return "", time.Time{}, ErrAdminNotConfigured
	}
	if !strings.EqualFold(strings.TrimSpace(email), a.config.Email) {
		return "", time.Time{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.config.PasswordHash), []byte(password)); err != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}

	now := a.now()
	expiresAt := now.Add(a.config.TokenTTL)
	claims := jwt.RegisteredClaims{
		Subject:   a.config.Email,
		Issuer:    adminIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.config.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign admin token: %w", err)
	}
	return token, expiresAt, nil
}

// Verify validates a token and returns its subject.
func (a *AdminAuth) Verify(tokenString string) (string, error) {
	if !a.Configured() {
		return "", ErrAdminNotConfigured
	}
	claims := &jwt.RegisteredClaims{}
	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}}
	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(a.config.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Issuer != adminIssuer || !strings.EqualFold(claims.Subject, a.config.Email) {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
