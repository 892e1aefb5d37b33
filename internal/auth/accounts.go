package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials covers unknown usernames and wrong passwords
	// uniformly so login responses never reveal which accounts exist.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUsernameTaken is returned by Register for a duplicate username.
	ErrUsernameTaken = errors.New("username already exists")
)

// Instructor is a registered session owner.
type Instructor struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// InstructorStore persists instructor credentials.
type InstructorStore interface {
	// Create stores a new instructor with a bcrypt password hash. Returns
	// ErrUsernameTaken on a username collision.
	Create(ctx context.Context, ins Instructor, passwordHash string) error

	// GetByUsername returns the instructor and stored hash, or
	// ErrInvalidCredentials when the username is unknown.
	GetByUsername(ctx context.Context, username string) (Instructor, string, error)
}

// Accounts handles instructor registration and login.
type Accounts struct {
	store InstructorStore
}

// NewAccounts creates an Accounts service.
func NewAccounts(store InstructorStore) *Accounts {
	return &Accounts{store: store}
}

// Register creates an instructor account with a bcrypt-hashed password.
func (a *Accounts) Register(ctx context.Context, username, name, password string) (Instructor, error) {
	if username == "" || name == "" || password == "" {
		return Instructor{}, errors.New("username, name and password required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Instructor{}, err
	}
	ins := Instructor{
		ID:        uuid.NewString(),
		Username:  username,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.Create(ctx, ins, string(hash)); err != nil {
		return Instructor{}, err
	}
	return ins, nil
}

// Authenticate checks a username/password pair.
func (a *Accounts) Authenticate(ctx context.Context, username, password string) (Instructor, error) {
	ins, hash, err := a.store.GetByUsername(ctx, username)
	if err != nil {
		return Instructor{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return Instructor{}, ErrInvalidCredentials
	}
	return ins, nil
}
