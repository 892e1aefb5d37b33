package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
)

// PostgresInstructorStore keeps instructor credentials in Postgres.
type PostgresInstructorStore struct {
	db *sql.DB
}

func NewPostgresInstructorStore(db *sql.DB) *PostgresInstructorStore {
	return &PostgresInstructorStore{db: db}
}

// EnsureSchema creates the instructors table.
func (s *PostgresInstructorStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS instructors (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (s *PostgresInstructorStore) Create(ctx context.Context, ins Instructor, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instructors (id, username, name, password_hash)
		VALUES ($1,$2,$3,$4)
	`, ins.ID, ins.Username, ins.Name, passwordHash)
	if err != nil && strings.Contains(err.Error(), "unique") {
		return ErrUsernameTaken
	}
	return err
}

func (s *PostgresInstructorStore) GetByUsername(ctx context.Context, username string) (Instructor, string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, name, password_hash, created_at
		FROM instructors WHERE username = $1
	`, username)
	var ins Instructor
	var hash string
	if err := row.Scan(&ins.ID, &ins.Username, &ins.Name, &hash, &ins.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Instructor{}, "", ErrInvalidCredentials
		}
		return Instructor{}, "", err
	}
	return ins, hash, nil
}

// MemoryInstructorStore is an in-memory InstructorStore for dev/testing.
type MemoryInstructorStore struct {
	mu     sync.RWMutex
	byName map[string]memoryInstructor
}

type memoryInstructor struct {
	ins  Instructor
	hash string
}

func NewMemoryInstructorStore() *MemoryInstructorStore {
	return &MemoryInstructorStore{byName: make(map[string]memoryInstructor)}
}

func (s *MemoryInstructorStore) Create(_ context.Context, ins Instructor, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[ins.Username]; ok {
		return ErrUsernameTaken
	}
	s.byName[ins.Username] = memoryInstructor{ins: ins, hash: passwordHash}
	return nil
}

func (s *MemoryInstructorStore) GetByUsername(_ context.Context, username string) (Instructor, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byName[username]
	if !ok {
		return Instructor{}, "", ErrInvalidCredentials
	}
	return rec.ins, rec.hash, nil
}
