// Package authpw provides email/password authentication with verification.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"golang.org/x/crypto/bcrypt"

	"quorum/api/internal/store"
	"quorum/api/internal/util"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_\-]{3,30}$`)

// Service provides email/password authentication
type Service struct {
	store ProfileStore
}

// ProfileStore defines the storage interface for auth
type ProfileStore interface {
	GetProfileByEmail(ctx context.Context, email string) (store.Profile, error)
	GetProfileByUsername(ctx context.Context, username string) (store.Profile, error)
	GetProfileByID(ctx context.Context, id string) (store.Profile, error)
	CreateProfile(ctx context.Context, profile store.Profile) error
	UpdateVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	VerifyProfileEmail(ctx context.Context, token string) error
	UpdateProfilePassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error
	GetPasswordReset(ctx context.Context, token string) (string, error)
	MarkPasswordResetUsed(ctx context.Context, token string) error
}

// NewService creates a new auth service
func NewService(store ProfileStore) *Service {
	return &Service{store: store}
}

// SignUpRequest contains sign-up parameters
type SignUpRequest struct {
	Username string
	Email    string
	Password string
}

// SignUpResponse contains sign-up result
type SignUpResponse struct {
	UserID              string
	VerificationToken   string
	RequiresEmailVerify bool
}

// SignUp creates a new account with the default "user" role.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResponse, error) {
	if req.Email == "" || req.Password == "" || req.Username == "" {
		return nil, errors.New("username, email, and password are required")
	}
	if !usernamePattern.MatchString(req.Username) {
		return nil, errors.New("username must be 3-30 letters, digits, underscores, or hyphens")
	}
	if len(req.Password) < 8 {
		return nil, errors.New("password must be at least 8 characters")
	}

	if _, err := s.store.GetProfileByEmail(ctx, req.Email); err == nil {
		return nil, errors.New("email already registered")
	}
	if _, err := s.store.GetProfileByUsername(ctx, req.Username); err == nil {
		return nil, errors.New("username already taken")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	verificationToken := util.NewToken()

	profile := store.Profile{
		ID:                util.NewID("usr"),
		Username:          req.Username,
		Email:             req.Email,
		PasswordHash:      string(hash),
		Role:              "user",
		IsEmailVerified:   false,
		VerificationToken: verificationToken,
	}

	if err := s.store.CreateProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}

	// Verification links stay valid for 24 hours.
	expiresAt := time.Now().Add(24 * time.Hour)
	if err := s.store.UpdateVerificationToken(ctx, profile.ID, verificationToken, expiresAt); err != nil {
		return nil, fmt.Errorf("set verification expiry: %w", err)
	}

	return &SignUpResponse{
		UserID:              profile.ID,
		VerificationToken:   verificationToken,
		RequiresEmailVerify: true,
	}, nil
}

// SignInRequest contains sign-in parameters
type SignInRequest struct {
	Email    string
	Password string
}

// SignInResponse contains sign-in result
type SignInResponse struct {
	Profile        store.Profile
	RequiresVerify bool
}

// SignIn authenticates a user. Banned accounts may still sign in; write
// affordances are withheld downstream by the role gate.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (*SignInResponse, error) {
	if req.Email == "" || req.Password == "" {
		return nil, errors.New("email and password are required")
	}

	profile, err := s.store.GetProfileByEmail(ctx, req.Email)
	if err != nil {
		return nil, errors.New("invalid email or password")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(req.Password)); err != nil {
		return nil, errors.New("invalid email or password")
	}

	if !profile.IsEmailVerified {
		return &SignInResponse{
			Profile:        profile,
			RequiresVerify: true,
		}, nil
	}

	return &SignInResponse{
		Profile:        profile,
		RequiresVerify: false,
	}, nil
}

// VerifyEmail verifies an email address using a token
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("verification token required")
	}

	if err := s.store.VerifyProfileEmail(ctx, token); err != nil {
		return errors.New("invalid or expired verification token")
	}

	return nil
}

// RequestPasswordReset creates a password reset token. The empty return on
// an unknown email keeps account existence unguessable.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	profile, err := s.store.GetProfileByEmail(ctx, email)
	if err != nil {
		return "", nil
	}

	token := util.NewToken()

	expiresAt := time.Now().Add(1 * time.Hour)
	if err := s.store.CreatePasswordReset(ctx, profile.ID, token, expiresAt); err != nil {
		return "", err
	}

	return token, nil
}

// ResetPasswordRequest contains password reset parameters
type ResetPasswordRequest struct {
	Token       string
	NewPassword string
}

// ResetPassword resets a user's password using a reset token
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if req.Token == "" || req.NewPassword == "" {
		return errors.New("token and new password are required")
	}
	if len(req.NewPassword) < 8 {
		return errors.New("password must be at least 8 characters")
	}

	userID, err := s.store.GetPasswordReset(ctx, req.Token)
	if err != nil {
		return errors.New("invalid or expired reset token")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.store.UpdateProfilePassword(ctx, userID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	// Best effort; the password has already changed.
	_ = s.store.MarkPasswordResetUsed(ctx, req.Token)

	return nil
}
