package service

import (
	"errors"

	"abonix/config"
	"abonix/internal/auth"
	"abonix/internal/domain"
	"abonix/internal/models"
	"abonix/internal/repository"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrEmailExists  = errors.New("email already registered")
	ErrInvalidCreds = errors.New("invalid email or password")
)

// TokenPair is issued on register, login and refresh. The refresh token is
// rotated on every use.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type AuthService struct {
	cfg      *config.Config
	userRepo *repository.UserRepository
}

func NewAuthService(cfg *config.Config, userRepo *repository.UserRepository) *AuthService {
	return &AuthService{cfg: cfg, userRepo: userRepo}
}

func (s *AuthService) issueTokens(u *models.User) (*TokenPair, error) {
	access, err := auth.GenerateAccessToken(&s.cfg.JWT, u.ID, u.Email, u.Role)
	if err != nil {
		return nil, err
	}
	refresh, err := auth.GenerateRefreshToken(&s.cfg.JWT, u.ID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *AuthService) Register(email, password string) (*models.User, *TokenPair, error) {
	_, err := s.userRepo.GetByEmail(email)
	if err == nil {
		return nil, nil, ErrEmailExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, err
	}
	u := &models.User{
		Email:        email,
		PasswordHash: string(hash),
		Role:         domain.RoleUser,
	}
	if err := s.userRepo.Create(u); err != nil {
		return nil, nil, err
	}
	tokens, err := s.issueTokens(u)
	if err != nil {
		return nil, nil, err
	}
	return u, tokens, nil
}

func (s *AuthService) Login(email, password string) (*models.User, *TokenPair, error) {
	u, err := s.userRepo.GetByEmail(email)
	if err != nil {
		return nil, nil, ErrInvalidCreds
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, nil, ErrInvalidCreds
	}
	tokens, err := s.issueTokens(u)
	if err != nil {
		return nil, nil, err
	}
	return u, tokens, nil
}

// Refresh exchanges a valid refresh token for a fresh pair. The user row is
// re-read so a deleted account or changed role invalidates old sessions.
func (s *AuthService) Refresh(refreshToken string) (*models.User, *TokenPair, error) {
	userID, err := auth.ParseRefreshToken(&s.cfg.JWT, refreshToken)
	if err != nil {
		return nil, nil, auth.ErrInvalidToken
	}
	u, err := s.userRepo.GetByID(userID)
	if err != nil {
		return nil, nil, auth.ErrInvalidToken
	}
	tokens, err := s.issueTokens(u)
	if err != nil {
		return nil, nil, err
	}
	return u, tokens, nil
}
