// Package service implements the domain rules of the shop: registration
// and login, catalog filtering, and checkout. Each service declares the
// slice of the storage interface it actually consumes.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/patric-chuzhbe/shoplite/internal/models"
)

type userKeeper interface {
	CreateUser(ctx context.Context, usr *models.User) error
	FindUserByEmail(ctx context.Context, email string) (*models.User, bool, error)
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

type sessionKeeper interface {
	Create(userID string) models.Session
	Destroy(sessionID string)
}

// Users handles registration, login, and the current-user lookup.
type Users struct {
	db       userKeeper
	sessions sessionKeeper
}

// NewUsers creates a Users service over the given storage and session
// table.
func NewUsers(db userKeeper, sessions sessionKeeper) *Users {
	return &Users{
		db:       db,
		sessions: sessions,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a user with a bcrypt hash of the password. A taken
// email fails with models.ErrConflict.
func (s *Users) Register(ctx context.Context, email, password string) (*models.User, error) {
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	usr := &models.User{
		ID:           uuid.New().String(),
		Email:        normalizeEmail(email),
		PasswordHash: string(passwordHash),
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.db.CreateUser(ctx, usr); err != nil {
		return nil, err
	}

	return usr, nil
}

// Login verifies the credentials and issues a session. Unknown email and
// wrong password fail with the same models.ErrUnauthenticated.
func (s *Users) Login(ctx context.Context, email, password string) (*models.User, models.Session, error) {
	usr, found, err := s.db.FindUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, models.Session{}, err
	}
	if !found {
		return nil, models.Session{}, models.ErrUnauthenticated
	}

	if err := bcrypt.CompareHashAndPassword([]byte(usr.PasswordHash), []byte(password)); err != nil {
		return nil, models.Session{}, models.ErrUnauthenticated
	}

	return usr, s.sessions.Create(usr.ID), nil
}

// Logout destroys the session. Unknown session ids are ignored.
func (s *Users) Logout(sessionID string) {
	s.sessions.Destroy(sessionID)
}

// Me loads the authenticated user by id.
func (s *Users) Me(ctx context.Context, userID string) (*models.User, error) {
	return s.db.GetUserByID(ctx, userID)
}
