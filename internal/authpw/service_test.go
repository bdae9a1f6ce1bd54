package authpw

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

type fakeDirectory struct {
	getUserFn        func(ctx context.Context, email string) (User, error)
	createUserFn     func(ctx context.Context, user User) error
	updatePasswordFn func(ctx context.Context, email, hash string) error
}

func (f *fakeDirectory) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return f.getUserFn(ctx, email)
}

func (f *fakeDirectory) CreateUser(ctx context.Context, user User) error {
	return f.createUserFn(ctx, user)
}

func (f *fakeDirectory) UpdateUserPassword(ctx context.Context, email, hash string) error {
	if f.updatePasswordFn == nil {
		return nil
	}
	return f.updatePasswordFn(ctx, email, hash)
}

var domains = []string{"rezilienthealth.com", "dynamicsurgical.com"}

func TestSignUpAllowedDomain(t *testing.T) {
	var created User
	dir := &fakeDirectory{
		getUserFn: func(ctx context.Context, email string) (User, error) {
			return User{}, errors.New("not found")
		},
		createUserFn: func(ctx context.Context, user User) error {
			created = user
			return nil
		},
	}
	svc := NewService(dir, domains)

	user, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:    "Alice@RezilientHealth.com",
		Password: "longenough",
		Name:     "Alice",
	})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if user.Email != "alice@rezilienthealth.com" {
		t.Errorf("email not normalized: %q", user.Email)
	}
	if user.Role != "user" {
		t.Errorf("new accounts should default to user role, got %q", user.Role)
	}
	if created.PasswordHash == "" || created.PasswordHash == "longenough" {
		t.Errorf("password should be stored hashed")
	}
}

func TestSignUpRejectsForeignDomain(t *testing.T) {
	svc := NewService(&fakeDirectory{}, domains)
	_, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:    "mallory@elsewhere.com",
		Password: "longenough",
		Name:     "Mallory",
	})
	if err == nil {
		t.Fatalf("expected domain rejection")
	}
}

func TestSignUpRejectsShortPassword(t *testing.T) {
	svc := NewService(&fakeDirectory{}, domains)
	_, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:    "alice@rezilienthealth.com",
		Password: "short",
		Name:     "Alice",
	})
	if err == nil {
		t.Fatalf("expected password length rejection")
	}
}

func TestSignIn(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.DefaultCost)
	dir := &fakeDirectory{
		getUserFn: func(ctx context.Context, email string) (User, error) {
			if email == "alice@rezilienthealth.com" {
				return User{Email: email, Role: "provider", PasswordHash: string(hash)}, nil
			}
			return User{}, errors.New("not found")
		},
	}
	svc := NewService(dir, domains)

	user, err := svc.SignIn(context.Background(), SignInRequest{
		Email:    "alice@rezilienthealth.com",
		Password: "correct-horse",
	})
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if user.Role != "provider" {
		t.Errorf("role = %q", user.Role)
	}

	if _, err := svc.SignIn(context.Background(), SignInRequest{
		Email:    "alice@rezilienthealth.com",
		Password: "wrong",
	}); err == nil {
		t.Errorf("wrong password should fail")
	}
	if _, err := svc.SignIn(context.Background(), SignInRequest{
		Email:    "nobody@rezilienthealth.com",
		Password: "correct-horse",
	}); err == nil {
		t.Errorf("unknown user should fail")
	}
}
