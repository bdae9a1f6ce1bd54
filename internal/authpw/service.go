// Package authpw provides email/password authentication over the
// authorized user directory.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// User is an entry in the authorized user directory.
type User struct {
	Email        string
	Name         string
	Role         string
	WebhookURL   string
	PasswordHash string
}

// Directory is the slice of the user store auth needs.
type Directory interface {
	GetUserByEmail(ctx context.Context, email string) (User, error)
	CreateUser(ctx context.Context, user User) error
	UpdateUserPassword(ctx context.Context, email, passwordHash string) error
}

// Service provides email/password authentication. Sign-up is gated to the
// organization's allowed domains.
type Service struct {
	directory      Directory
	allowedDomains []string
}

func NewService(directory Directory, allowedDomains []string) *Service {
	return &Service{
		directory:      directory,
		allowedDomains: allowedDomains,
	}
}

// SignUpRequest contains sign-up parameters
type SignUpRequest struct {
	Email    string
	Password string
	Name     string
}

// SignUp creates a new directory entry with the least-privileged role.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (User, error) {
	if req.Email == "" || req.Password == "" || req.Name == "" {
		return User{}, errors.New("email, password, and name are required")
	}

	if len(req.Password) < 8 {
		return User{}, errors.New("password must be at least 8 characters")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !s.domainAllowed(email) {
		return User{}, errors.New("email domain is not allowed")
	}

	// Check if email already exists
	_, err := s.directory.GetUserByEmail(ctx, email)
	if err == nil {
		return User{}, errors.New("email already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	user := User{
		Email:        email,
		Name:         req.Name,
		Role:         "user",
		PasswordHash: string(hash),
	}

	if err := s.directory.CreateUser(ctx, user); err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

// SignInRequest contains sign-in parameters
type SignInRequest struct {
	Email    string
	Password string
}

// SignIn authenticates a user against the directory.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (User, error) {
	if req.Email == "" || req.Password == "" {
		return User{}, errors.New("email and password are required")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := s.directory.GetUserByEmail(ctx, email)
	if err != nil {
		return User{}, errors.New("invalid email or password")
	}

	if user.PasswordHash == "" {
		return User{}, errors.New("account has no password set")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return User{}, errors.New("invalid email or password")
	}

	return user, nil
}

// ChangePassword replaces a user's password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, email, current, next string) error {
	if len(next) < 8 {
		return errors.New("password must be at least 8 characters")
	}

	user, err := s.directory.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return errors.New("user not found")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
		return errors.New("current password is incorrect")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.directory.UpdateUserPassword(ctx, user.Email, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *Service) domainAllowed(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	domain := email[at+1:]
	for _, d := range s.allowedDomains {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}
