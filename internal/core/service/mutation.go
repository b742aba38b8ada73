package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/genpire/rfq-service/internal/logging"
)

const cleanupTimeout = 5 * time.Second

var ErrUpdateFailed = errors.New("failed to update status")

// MutationPolicy decides which failures undo the optimistic apply.
type MutationPolicy struct {
	RollbackOnCommitFailure     bool
	RollbackOnSideEffectFailure bool
}

// RFQMutationPolicy: a persisted status is real even if nobody was told.
var RFQMutationPolicy = MutationPolicy{
	RollbackOnCommitFailure:     true,
	RollbackOnSideEffectFailure: false,
}

// Mutation is an optimistic change run as apply -> commit -> side effect ->
// reconcile. SideEffect and Reconcile are optional.
type Mutation struct {
	Name       string
	Apply      func(ctx context.Context) error
	Commit     func(ctx context.Context) error
	SideEffect func(ctx context.Context) error
	Rollback   func(ctx context.Context) error
	Reconcile  func(ctx context.Context) error
	Policy     MutationPolicy
}

type MutationOutcome struct {
	Committed     bool
	RolledBack    bool
	SideEffectErr error
	ReconcileErr  error
}

// RunMutation returns an error only when the change did not stick. A failed
// side effect without rollback is reported in the outcome, not as an error.
func RunMutation(ctx context.Context, m Mutation) (MutationOutcome, error) {
	var out MutationOutcome
	logger := logging.FromContext(ctx).With("mutation", m.Name)

	// Cleanup must finish even when the caller has gone away.
	cleanupCtx := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	}
	reconcile := func() {
		if m.Reconcile == nil {
			return
		}
		rctx, cancel := cleanupCtx()
		defer cancel()
		if err := m.Reconcile(rctx); err != nil {
			out.ReconcileErr = err
			logger.Warn("reconcile failed", "error", err)
		}
	}
	rollback := func() {
		if m.Rollback == nil {
			return
		}
		rctx, cancel := cleanupCtx()
		defer cancel()
		if err := m.Rollback(rctx); err != nil {
			logger.Error("CRITICAL rollback failed", "error", err)
			return
		}
		out.RolledBack = true
		logger.Info("rolled back optimistic update")
	}

	if err := m.Apply(ctx); err != nil {
		reconcile()
		return out, fmt.Errorf("apply: %w", err)
	}

	if err := m.Commit(ctx); err != nil {
		logger.Warn("commit failed", "error", err)
		if m.Policy.RollbackOnCommitFailure {
			rollback()
		}
		reconcile()
		return out, fmt.Errorf("%w: %w", ErrUpdateFailed, err)
	}
	out.Committed = true

	if m.SideEffect != nil {
		if err := m.SideEffect(ctx); err != nil {
			out.SideEffectErr = err
			logger.Warn("side effect failed", "error", err)
			if m.Policy.RollbackOnSideEffectFailure {
				rollback()
				reconcile()
				return out, fmt.Errorf("side effect: %w", err)
			}
		}
	}

	reconcile()
	return out, nil
}
