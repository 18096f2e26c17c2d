package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/promptbazaar/backend/internal/ledger"
	"github.com/promptbazaar/backend/internal/models"
	"github.com/promptbazaar/backend/internal/repository"
)

var (
	// ErrDuplicateEmail is returned when registering with an email that already exists.
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidInput       = errors.New("invalid registration input")
	ErrInvalidToken       = errors.New("invalid token")
)

const minPasswordLen = 8

const tokenTTL = 24 * time.Hour

type Service interface {
	Register(ctx context.Context, email, password, displayName string) (*models.Account, error)
	Login(ctx context.Context, email, password string) (string, error)
	ValidateToken(ctx context.Context, token string) (uuid.UUID, error)
}

// Options configures NewService.
type Options struct {
	Tx          ledger.TxBeginner
	Users       UserStore
	Bonus       BonusGranter
	Secret      string
	SignupBonus int64
	Logger      *slog.Logger
}

type service struct {
	tx          ledger.TxBeginner
	users       UserStore
	bonus       BonusGranter
	secret      []byte
	signupBonus int64
	log         *slog.Logger
	now         func() time.Time
}

func NewService(opts Options) *service {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &service{
		tx:          opts.Tx,
		users:       opts.Users,
		bonus:       opts.Bonus,
		secret:      []byte(opts.Secret),
		signupBonus: opts.SignupBonus,
		log:         log,
		now:         time.Now,
	}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

// Register creates the user and grants the signup bonus in one transaction, so
// the first credit_history row and the balance appear together.
func (s *service) Register(ctx context.Context, email, password, displayName string) (*models.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: email is not valid", ErrInvalidInput)
	}
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	acc := &models.Account{
		ID:           uuid.New(),
		Email:        email,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: string(hash),
	}
	err = ledger.WithTx(ctx, s.tx, func(tx pgx.Tx) error {
		if err := s.users.CreateTx(ctx, tx, acc); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrDuplicateEmail
			}
			return fmt.Errorf("insert user: %w", err)
		}
		if s.signupBonus > 0 {
			if err := s.bonus.GrantBonusTx(ctx, tx, acc.ID, s.signupBonus, "Signup bonus"); err != nil {
				return fmt.Errorf("grant signup bonus: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	acc.Credits = s.signupBonus
	s.log.InfoContext(ctx, "user registered", "user_id", acc.ID, "amount", s.signupBonus)
	return acc, nil
}

func (s *service) Login(ctx context.Context, email, password string) (string, error) {
	acc, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, repository.ErrNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.issueToken(acc.ID)
}

func (s *service) issueToken(userID uuid.UUID) (string, error) {
	now := s.now()
	c := jwt.RegisteredClaims{
		Subject:   userID.String(),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

// ValidateToken returns the user id carried in an HS256 token issued by Login.
func (s *service) ValidateToken(ctx context.Context, token string) (uuid.UUID, error) {
	c := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(token, c, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return uuid.Nil, ErrInvalidToken
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return id, nil
}
