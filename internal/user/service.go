package user

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/domain"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/errors"
)

const (
	// bcrypt only looks at the first 72 bytes.
	maxPasswordLen = 72

	defaultListLimit = 50
	maxListLimit     = 200
)

type Store interface {
	InsertUser(ctx context.Context, u domain.User) error
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	GetUserByLogin(ctx context.Context, login string) (*domain.User, error)
	ListUsers(ctx context.Context, limit int) ([]domain.User, error)
}

type TokenIssuer interface {
	Issue(u domain.User) (string, error)
}

type Config struct {
	Store  Store
	Tokens TokenIssuer
	// Cost is the bcrypt cost, bcrypt.DefaultCost when zero.
	Cost int
}

type Service struct {
	store  Store
	tokens TokenIssuer
	cost   int
}

func NewService(c Config) *Service {
	s := &Service{
		store:  c.Store,
		tokens: c.Tokens,
		cost:   c.Cost,
	}

	if s.cost == 0 {
		s.cost = bcrypt.DefaultCost
	}

	return s
}

type SignupRequest struct {
	Login    string
	Password string
	Email    string
}

// Signup registers a new user. Logins are unique.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (*domain.User, error) {
	login := strings.TrimSpace(req.Login)
	if login == "" || req.Password == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("login and password are required"))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(truncate(req.Password)), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate user ID: %w", err)
	}

	u := domain.User{
		UserID:       id.String(),
		Login:        login,
		Email:        strings.TrimSpace(req.Email),
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}

	if err := s.store.InsertUser(ctx, u); err != nil {
		return nil, err
	}

	return &u, nil
}

type LoginRequest struct {
	Login    string
	Password string
}

type LoginResponse struct {
	AccessToken string
	User        domain.User
}

// Login checks the password and issues a bearer token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	invalid := errors.New(errors.CodeUnauthenticated, errors.WithMessagef("incorrect username or password"))

	u, err := s.store.GetUserByLogin(ctx, strings.TrimSpace(req.Login))
	if errors.HasCode(err, errors.CodeNotFound) {
		return nil, invalid
	}
	if err != nil {
		return nil, err
	}

	err = bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(truncate(req.Password)))
	if stderrors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return nil, invalid
	}
	if err != nil {
		return nil, fmt.Errorf("compare password: %w", err)
	}

	token, err := s.tokens.Issue(*u)
	if err != nil {
		return nil, err
	}

	return &LoginResponse{AccessToken: token, User: *u}, nil
}

func (s *Service) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.store.GetUser(ctx, userID)
}

func (s *Service) ListUsers(ctx context.Context, limit int) ([]domain.User, error) {
	switch {
	case limit == 0:
		limit = defaultListLimit
	case limit < 0 || limit > maxListLimit:
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("limit must be between 1 and %d", maxListLimit))
	}

	return s.store.ListUsers(ctx, limit)
}

func truncate(password string) string {
	if len(password) > maxPasswordLen {
		return password[:maxPasswordLen]
	}
	return password
}
