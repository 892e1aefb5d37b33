package session

import (
	"context"
	"errors"
	"time"
)

// Store-level sentinels. The service maps these onto its typed outcomes.
var (
	// ErrNotActive covers "no such session", "not owned by the caller" and
	// "status is no longer Active" uniformly.
	ErrNotActive = errors.New("session not found or not active")

	// ErrDuplicateEntry is returned by AppendCheckIn when the duplicate
	// predicate matches an existing entry.
	ErrDuplicateEntry = errors.New("duplicate check-in entry")
)

// Store is the durable collection of sessions; the single source of truth for
// session state.
type Store interface {
	// Create persists a new session.
	Create(ctx context.Context, s *Session) error

	// FindActiveTarget resolves the check-in target for
	// (className, date, endTime) with status Active. It returns (nil, nil)
	// unless exactly one such session exists; zero and many are equally
	// "no target".
	FindActiveTarget(ctx context.Context, className, date, endTime string) (*Session, error)

	// AppendCheckIn appends ci to the session as one indivisible operation:
	// within the same per-session transaction/lock it re-verifies the status
	// is Active, evaluates isDup over the existing check-ins, and only then
	// appends. Returns ErrNotActive or ErrDuplicateEntry accordingly.
	AppendCheckIn(ctx context.Context, sessionID string, ci CheckIn, isDup func([]CheckIn) bool) error

	// Cancel transitions an owner's Active session to Cancelled. Returns
	// ErrNotActive when no such Active session exists for that owner.
	Cancel(ctx context.Context, ownerID, sessionID string) error

	// ExpireDue transitions every Active session whose end instant is at or
	// before now to Completed, returning how many changed.
	ExpireDue(ctx context.Context, now time.Time) (int, error)

	// ListByOwner returns the owner's sessions in any of the given statuses,
	// check-ins included, most recent first.
	ListByOwner(ctx context.Context, ownerID string, statuses ...Status) ([]Session, error)

	// Delete removes one of the owner's sessions outright. Administrative;
	// the engine service never calls it on its own.
	Delete(ctx context.Context, ownerID, sessionID string) error

	// DeleteAllByOwner removes every session owned by ownerID, returning the
	// number removed.
	DeleteAllByOwner(ctx context.Context, ownerID string) (int, error)
}
