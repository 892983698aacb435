package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestService_RegisterAndLogin(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	req := RegisterRequest{
		Email:      "amara@bank.example",
		Password:   "supersafe",
		FullName:   "Amara Teller",
		EmployeeID: "EMP-001",
	}

	ctx := context.Background()
	user, err := svc.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: unexpected error: %v", err)
	}

	if user.Email != req.Email {
		t.Fatalf("expected email %q got %q", req.Email, user.Email)
	}
	if user.Role != RoleTeller {
		t.Fatalf("register: expected default role %s got %s", RoleTeller, user.Role)
	}
	if user.EmployeeID != req.EmployeeID {
		t.Fatalf("register: expected employee id %q got %q", req.EmployeeID, user.EmployeeID)
	}

	resp, err := svc.Login(ctx, LoginRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login: expected token, got empty string")
	}
	if resp.User.ID != user.ID {
		t.Fatalf("login: expected user id %q got %q", user.ID, resp.User.ID)
	}

	tokenUserID, tokenRole, err := svc.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if tokenUserID != user.ID {
		t.Fatalf("verify token: expected %q got %q", user.ID, tokenUserID)
	}
	if tokenRole != RoleTeller {
		t.Fatalf("verify token: expected role %s got %s", RoleTeller, tokenRole)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:      "amara@bank.example",
		Password:   "short",
		FullName:   "Amara Teller",
		EmployeeID: "EMP-001",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "",
		Password: "strongpassword",
		FullName: "",
	}); err == nil {
		t.Fatal("expected validation error for missing fields")
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "amara@bank.example",
		Password: "strongpassword",
		FullName: "Amara Teller",
	}); err == nil {
		t.Fatal("expected validation error for missing employee id")
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:      "amara@bank.example",
		Password:   "strongpassword",
		FullName:   "Amara Teller",
		EmployeeID: "EMP-001",
		Role:       Role("superuser"),
	}); err == nil {
		t.Fatal("expected validation error for unknown role")
	}
}

func TestService_ExplicitRole(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	user, err := svc.Register(context.Background(), RegisterRequest{
		Email:      "kwame@bank.example",
		Password:   "strongpassword",
		FullName:   "Kwame Officer",
		EmployeeID: "EMP-002",
		Role:       RoleLoanOfficer,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Role != RoleLoanOfficer {
		t.Fatalf("expected role %s got %s", RoleLoanOfficer, user.Role)
	}
}

func TestService_DuplicateEmail(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	req := RegisterRequest{
		Email:      "amara@bank.example",
		Password:   "strongpassword",
		FullName:   "Amara Teller",
		EmployeeID: "EMP-001",
	}
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	if _, err := svc.Register(context.Background(), req); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestService_LoginInvalidCredentials(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	_, err := svc.Login(context.Background(), LoginRequest{
		Email:    "unknown@bank.example",
		Password: "irrelevant",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestService_VerifyTokenRejectsOtherSecret(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	user, err := svc.Register(context.Background(), RegisterRequest{
		Email:      "amara@bank.example",
		Password:   "strongpassword",
		FullName:   "Amara Teller",
		EmployeeID: "EMP-001",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	resp, err := svc.Login(context.Background(), LoginRequest{Email: user.Email, Password: "strongpassword"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	other := NewService(repo, "different-secret")
	if _, _, err := other.VerifyToken(resp.Token); err == nil {
		t.Fatal("expected verification failure with different secret")
	}
}

type fakeRepository struct {
	usersByEmail map[string]User
	usersByID    map[string]User
	nextID       int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		usersByEmail: make(map[string]User),
		usersByID:    make(map[string]User),
		nextID:       1,
	}
}

func (f *fakeRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	if _, exists := f.usersByEmail[strings.ToLower(params.Email)]; exists {
		return User{}, ErrDuplicateEmail
	}

	id := fmt.Sprintf("user-%d", f.nextID)
	f.nextID++

	user := User{
		ID:           id,
		Email:        params.Email,
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
		EmployeeID:   params.EmployeeID,
		Role:         params.Role,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	f.usersByEmail[strings.ToLower(user.Email)] = user
	f.usersByID[user.ID] = user

	return user, nil
}

func (f *fakeRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, ok := f.usersByEmail[strings.ToLower(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (f *fakeRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	user, ok := f.usersByID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}
