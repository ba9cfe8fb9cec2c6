package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubUserStore struct {
	users map[string]*User
}

func (s *stubUserStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.users[username], nil
}

func (s *stubUserStore) CreateUser(ctx context.Context, user *User) error {
	s.users[user.Username] = user
	return nil
}

func newTestService(t *testing.T, expiry time.Duration) (*Service, *stubUserStore) {
	t.Helper()

	hash, err := HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	store := &stubUserStore{users: map[string]*User{
		"analyst": {ID: "u-1", Username: "analyst", Password: hash, Role: RoleAnalyst},
	}}
	return NewService(Config{JWTSecret: "test-secret", AccessTokenExpiry: expiry}, store), store
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if hash == "s3cret" {
		t.Error("hash must not equal the plaintext")
	}
	if !CheckPassword("s3cret", hash) {
		t.Error("correct password must verify")
	}
	if CheckPassword("wrong", hash) {
		t.Error("wrong password must not verify")
	}
}

func TestLogin_Success(t *testing.T) {
	svc, _ := newTestService(t, time.Minute)

	token, err := svc.Login(context.Background(), "analyst", "correct-horse")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if token.AccessToken == "" || token.TokenType != "Bearer" {
		t.Errorf("unexpected token: %+v", token)
	}

	claims, err := svc.ValidateToken(token.AccessToken)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if claims.UserID != "u-1" || claims.Role != RoleAnalyst {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestLogin_Failures(t *testing.T) {
	svc, _ := newTestService(t, time.Minute)
	ctx := context.Background()

	if _, err := svc.Login(ctx, "analyst", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for bad password, got %v", err)
	}
	if _, err := svc.Login(ctx, "ghost", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestValidateToken_Expired(t *testing.T) {
	svc, _ := newTestService(t, -time.Minute)

	token, err := svc.Login(context.Background(), "analyst", "correct-horse")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if _, err := svc.ValidateToken(token.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestValidateToken_WrongSecret(t *testing.T) {
	svc, _ := newTestService(t, time.Minute)
	token, err := svc.Login(context.Background(), "analyst", "correct-horse")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	other := NewService(Config{JWTSecret: "different"}, nil)
	if _, err := other.ValidateToken(token.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for mismatched secret, got %v", err)
	}
}

func TestGetUserFromContext(t *testing.T) {
	if _, ok := GetUserFromContext(context.Background()); ok {
		t.Error("empty context must carry no claims")
	}

	ctx := context.WithValue(context.Background(), UserContextKey, &Claims{UserID: "u-9"})
	claims, ok := GetUserFromContext(ctx)
	if !ok || claims.UserID != "u-9" {
		t.Errorf("expected claims for u-9, got %+v (%v)", claims, ok)
	}
}
