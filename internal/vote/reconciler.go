// Package vote converges a user's stored vote and the target's denormalized
// vote counter with the fewest necessary store operations.
package vote

import (
	"context"
	"errors"
	"fmt"
)

type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

type Kind string

const (
	KindQuestion Kind = "question"
	KindAnswer   Kind = "answer"
)

// Target identifies a votable entity.
type Target struct {
	Kind Kind
	ID   string
}

// State is the user's resulting vote on a target.
type State string

const (
	StateNone State = ""
	StateUp   State = "up"
	StateDown State = "down"
)

var (
	ErrAuthRequired     = errors.New("authentication required")
	ErrInvalidDirection = errors.New("direction must be 'up' or 'down'")
)

// Record is a stored vote row, unique per (target, user).
type Record struct {
	Target    Target
	UserID    string
	Direction Direction
}

// Store is the minimal persistence surface the reconciler mutates.
// FindVote returns nil when the user has no vote on the target.
type Store interface {
	FindVote(ctx context.Context, target Target, userID string) (*Record, error)
	CreateVote(ctx context.Context, target Target, userID string, direction Direction) error
	UpdateVote(ctx context.Context, target Target, userID string, direction Direction) error
	DeleteVote(ctx context.Context, target Target, userID string) error
	SetVoteCount(ctx context.Context, target Target, count int) error
}

// Result reports the counter and vote state after reconciliation.
type Result struct {
	Count int
	State State
}

type Reconciler struct {
	store Store
}

func NewReconciler(store Store) *Reconciler {
	return &Reconciler{store: store}
}

func (d Direction) weight() int {
	if d == DirectionUp {
		return 1
	}
	return -1
}

// Apply converges stored state toward the requested direction with
// click-to-toggle semantics: no prior vote creates one, the same direction
// removes it, the opposite direction flips it. The vote mutation is written
// first, then the adjusted counter; the delta arithmetic is trusted rather
// than re-reading the authoritative sum, so a failure between the two writes
// leaves the counter stale until the next successful vote.
func (r *Reconciler) Apply(ctx context.Context, target Target, userID string, requested Direction, priorCount int) (Result, error) {
	if userID == "" {
		return Result{}, ErrAuthRequired
	}
	if requested != DirectionUp && requested != DirectionDown {
		return Result{}, ErrInvalidDirection
	}

	prior, err := r.store.FindVote(ctx, target, userID)
	if err != nil {
		return Result{}, fmt.Errorf("find vote: %w", err)
	}

	var delta int
	state := StateNone
	switch {
	case prior == nil:
		if err := r.store.CreateVote(ctx, target, userID, requested); err != nil {
			return Result{}, fmt.Errorf("create vote: %w", err)
		}
		delta = requested.weight()
		state = State(requested)
	case prior.Direction == requested:
		if err := r.store.DeleteVote(ctx, target, userID); err != nil {
			return Result{}, fmt.Errorf("delete vote: %w", err)
		}
		delta = -requested.weight()
	default:
		if err := r.store.UpdateVote(ctx, target, userID, requested); err != nil {
			return Result{}, fmt.Errorf("update vote: %w", err)
		}
		delta = 2 * requested.weight()
		state = State(requested)
	}

	count := priorCount + delta
	if err := r.store.SetVoteCount(ctx, target, count); err != nil {
		return Result{}, fmt.Errorf("set vote count: %w", err)
	}
	return Result{Count: count, State: state}, nil
}
