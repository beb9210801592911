package services

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"volleystat/config"
	"volleystat/internal/domain/user"
	"volleystat/internal/repository"
	volley_errors "volleystat/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// TokenRevoker is the sign-out deny-list.
type TokenRevoker interface {
	Revoke(ctx context.Context, jti string, until time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type AuthService struct {
	userRepo  repository.UserRepository
	revoker   TokenRevoker
	jwtSecret []byte
	accessTTL time.Duration
	now       func() time.Time
}

func NewAuthService(userRepo repository.UserRepository, revoker TokenRevoker, cfg *config.Config) *AuthService {
	ttl := time.Duration(cfg.JWTExpiryMin) * time.Minute
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AuthService{
		userRepo:  userRepo,
		revoker:   revoker,
		jwtSecret: []byte(cfg.JWTSecret),
		accessTTL: ttl,
		now:       time.Now,
	}
}

type SignUpInput struct {
	Email       string
	Password    string
	DisplayName string
}

type SignInInput struct {
	Email    string
	Password string
}

type AuthResponse struct {
	AccessToken string   `json:"accessToken"`
	ExpiresIn   int64    `json:"expiresIn"`
	User        UserInfo `json:"user"`
}

type UserInfo struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
}

type AccessClaims struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

func (s *AuthService) SignUp(ctx context.Context, in SignUpInput) (UserInfo, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return UserInfo{}, volley_errors.NewValidationError("email", "invalid email address")
	}
	if len(in.Password) < 8 {
		return UserInfo{}, volley_errors.NewValidationError("password", "password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return UserInfo{}, err
	}

	now := s.now()
	u := &user.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  strings.TrimSpace(in.DisplayName),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, u); err != nil {
		return UserInfo{}, err
	}
	return toUserInfo(*u), nil
}

func (s *AuthService) SignIn(ctx context.Context, in SignInInput) (AuthResponse, error) {
	if in.Email == "" || in.Password == "" {
		return AuthResponse{}, volley_errors.NewValidationError("", "email and password are required")
	}

	u, err := s.userRepo.GetUserByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, volley_errors.ErrNotFound) {
			return AuthResponse{}, volley_errors.ErrUnauthorized
		}
		return AuthResponse{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)); err != nil {
		return AuthResponse{}, volley_errors.ErrUnauthorized
	}

	token, expiresIn, err := s.newAccessToken(u)
	if err != nil {
		return AuthResponse{}, err
	}
	return AuthResponse{AccessToken: token, ExpiresIn: expiresIn, User: toUserInfo(u)}, nil
}

// SignOut revokes the presented token until it would have expired.
func (s *AuthService) SignOut(ctx context.Context, claims AccessClaims) error {
	if s.revoker == nil || claims.ID == "" {
		return nil
	}
	until := s.now().Add(s.accessTTL)
	if claims.ExpiresAt != nil {
		until = claims.ExpiresAt.Time
	}
	return s.revoker.Revoke(ctx, claims.ID, until)
}

func (s *AuthService) Me(ctx context.Context, userID uuid.UUID) (UserInfo, error) {
	u, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		return UserInfo{}, err
	}
	return toUserInfo(u), nil
}

func (s *AuthService) ParseAccessToken(ctx context.Context, tokenString string) (AccessClaims, error) {
	if tokenString == "" {
		return AccessClaims{}, volley_errors.ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, volley_errors.ErrUnauthorized
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return AccessClaims{}, volley_errors.ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return AccessClaims{}, volley_errors.ErrUnauthorized
	}

	if s.revoker != nil && claims.ID != "" {
		revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			return AccessClaims{}, volley_errors.ErrServiceUnavailable
		}
		if revoked {
			return AccessClaims{}, volley_errors.ErrUnauthorized
		}
	}
	return *claims, nil
}

func (s *AuthService) newAccessToken(u user.User) (string, int64, error) {
	now := s.now()
	claims := AccessClaims{
		UserID: u.ID.String(),
		Email:  u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   u.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(s.accessTTL.Seconds()), nil
}

func toUserInfo(u user.User) UserInfo {
	return UserInfo{ID: u.ID.String(), Email: u.Email, DisplayName: u.DisplayName}
}
