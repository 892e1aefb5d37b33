package session

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository persists sessions and their check-ins in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the tables and the check-in targeting index.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			class_name TEXT NOT NULL,
			course_name TEXT NOT NULL,
			session_date TEXT NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			anchor_lat DOUBLE PRECISION NOT NULL,
			anchor_lng DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL DEFAULT 'Active',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_target
			ON sessions (class_name, session_date, end_time, status)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions (owner_id)`,
		`CREATE TABLE IF NOT EXISTS checkins (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			name_cipher TEXT NOT NULL,
			index_cipher TEXT NOT NULL,
			device_id TEXT NOT NULL DEFAULT '',
			lat DOUBLE PRECISION NOT NULL,
			lng DOUBLE PRECISION NOT NULL,
			checked_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkins_session ON checkins (session_id)`,
	}
	for _, q := range stmts {
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Create persists a new session.
func (r *Repository) Create(ctx context.Context, s *Session) error {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO sessions (id, owner_id, class_name, course_name, session_date, start_time, end_time, anchor_lat, anchor_lng, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at
	`, s.ID, s.OwnerID, s.ClassName, s.CourseName, s.Date, s.StartTime, s.EndTime, s.Anchor.Lat, s.Anchor.Lng, s.Status)
	return row.Scan(&s.CreatedAt)
}

// FindActiveTarget resolves the session a check-in targets. Zero matches and
// ambiguous matches both come back nil.
func (r *Repository) FindActiveTarget(ctx context.Context, className, date, endTime string) (*Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, class_name, course_name, session_date, start_time, end_time, anchor_lat, anchor_lng, status, created_at
		FROM sessions
		WHERE class_name = $1 AND session_date = $2 AND end_time = $3 AND status = $4
		LIMIT 2
	`, className, date, endTime, StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Session
	for rows.Next() {
		var s Session
		if err := scanSession(rows, &s); err != nil {
			return nil, err
		}
		matches = append(matches, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(matches) != 1 {
		return nil, nil
	}
	return &matches[0], nil
}

// AppendCheckIn runs the duplicate-and-append sequence inside one transaction,
// holding a row lock on the session so concurrent submissions serialize. The
// status is re-verified under the lock; a sweep or cancel that committed first
// wins.
func (r *Repository) AppendCheckIn(ctx context.Context, sessionID string, ci CheckIn, isDup func([]CheckIn) bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status Status
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM sessions WHERE id = $1 FOR UPDATE`, sessionID,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotActive
		}
		return err
	}
	if status != StatusActive {
		return ErrNotActive
	}

	existing, err := loadCheckIns(ctx, tx, sessionID)
	if err != nil {
		return err
	}
	if isDup != nil && isDup(existing) {
		return ErrDuplicateEntry
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkins (session_id, name_cipher, index_cipher, device_id, lat, lng, checked_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, sessionID, ci.NameCipher, ci.IndexCipher, ci.DeviceID, ci.Location.Lat, ci.Location.Lng, ci.Timestamp)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Cancel flips an owner's Active session to Cancelled.
func (r *Repository) Cancel(ctx context.Context, ownerID, sessionID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET status = $1
		WHERE id = $2 AND owner_id = $3 AND status = $4
	`, StatusCancelled, sessionID, ownerID, StatusActive)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotActive
	}
	return nil
}

// ExpireDue completes every Active session whose end instant has passed.
// Dates and times are zero-padded strings, so "date time" compares
// lexicographically.
func (r *Repository) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.UTC().Format(dateLayout + " " + timeLayout)
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET status = $1
		WHERE status = $2 AND (session_date || ' ' || end_time) <= $3
	`, StatusCompleted, StatusActive, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ListByOwner returns the owner's sessions in the given statuses with their
// check-ins, newest first.
func (r *Repository) ListByOwner(ctx context.Context, ownerID string, statuses ...Status) ([]Session, error) {
	query := `
		SELECT id, owner_id, class_name, course_name, session_date, start_time, end_time, anchor_lat, anchor_lng, status, created_at
		FROM sessions WHERE owner_id = $1`
	args := []any{ownerID}
	if len(statuses) > 0 {
		query += ` AND status = ANY($2)`
		ss := make([]string, len(statuses))
		for i, st := range statuses {
			ss[i] = string(st)
		}
		args = append(args, ss)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		if err := scanSession(rows, &s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		cis, err := loadCheckIns(ctx, r.db, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].CheckIns = cis
	}
	return out, nil
}

// Delete removes one of the owner's sessions; check-ins cascade.
func (r *Repository) Delete(ctx context.Context, ownerID, sessionID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = $1 AND owner_id = $2`, sessionID, ownerID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotActive
	}
	return nil
}

// DeleteAllByOwner clears an owner's entire session history.
func (r *Repository) DeleteAllByOwner(ctx context.Context, ownerID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type querier interface {
	QueryContext(ctx context.Context, q string, args ...any) (*sql.Rows, error)
}

func loadCheckIns(ctx context.Context, q querier, sessionID string) ([]CheckIn, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT name_cipher, index_cipher, device_id, lat, lng, checked_at
		FROM checkins WHERE session_id = $1 ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CheckIn
	for rows.Next() {
		var ci CheckIn
		if err := rows.Scan(&ci.NameCipher, &ci.IndexCipher, &ci.DeviceID, &ci.Location.Lat, &ci.Location.Lng, &ci.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, ci)
	}
	return out, rows.Err()
}

func scanSession(rows *sql.Rows, s *Session) error {
	return rows.Scan(&s.ID, &s.OwnerID, &s.ClassName, &s.CourseName, &s.Date,
		&s.StartTime, &s.EndTime, &s.Anchor.Lat, &s.Anchor.Lng, &s.Status, &s.CreatedAt)
}
