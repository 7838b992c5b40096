package app

import (
	"errors"
	"fmt"
	"strings"

	"docassist/pkg/auth"
	"docassist/pkg/domain"
	"docassist/pkg/store"
)

// NormalizeEmail is the canonical form used for storage and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailTaken reports whether a user already registered email.
func (a *App) EmailTaken(email string) (bool, error) {
	exists, err := a.store.HasUserEmail(NormalizeEmail(email))
	if err != nil {
		return false, fmt.Errorf("check email: %w", err)
	}
	return exists, nil
}

// Register creates a user and issues its first bearer token.
func (a *App) Register(name, email, password string) (domain.User, string, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	user, err := a.store.CreateUser(domain.User{
		Name:         strings.TrimSpace(name),
		Email:        NormalizeEmail(email),
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return domain.User{}, "", fieldError("email", MsgEmailTaken, ErrEmailTaken)
		}
		return domain.User{}, "", fmt.Errorf("save user: %w", err)
	}
	token, err := a.tokens.IssueToken(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// Login validates credentials and issues an additional bearer token.
func (a *App) Login(email, password string) (domain.User, string, error) {
	user, ok, err := a.store.GetUserByEmail(NormalizeEmail(email))
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.tokens.IssueToken(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// Logout revokes the presented token only; other sessions stay valid.
func (a *App) Logout(token string) error {
	if err := a.tokens.RevokeToken(token); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// UserFromToken resolves the user behind a bearer token.
func (a *App) UserFromToken(token string) (domain.User, error) {
	uid, ok, err := a.tokens.UserIDByToken(token)
	if err != nil {
		return domain.User{}, fmt.Errorf("resolve token: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUnauthenticated
	}
	user, ok, err := a.store.GetUserByID(uid)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUnauthenticated
	}
	return user, nil
}
