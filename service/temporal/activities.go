package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/minersworld/tipledger/service/metrics"
)

// ReconcileInput contains the input parameters for a reconcile run.
// Runs are identical; the trigger field only distinguishes scheduled cycles
// from the startup recovery pass in logs and histories.
type ReconcileInput struct {
	Trigger string `json:"trigger"` // "schedule" or "startup"
}

// ReconcileResult contains the result of a reconcile run.
type ReconcileResult struct {
	Trigger     string    `json:"trigger"`
	CompletedAt time.Time `json:"completed_at"`
	Error       *string   `json:"error,omitempty"`
}

// ExecuteAirdropInput contains the input parameters for paying out an
// airdrop.
type ExecuteAirdropInput struct {
	AirdropID int64 `json:"airdrop_id"`
}

// ExecuteAirdropResult contains the result of an airdrop payout.
type ExecuteAirdropResult struct {
	AirdropID  int64 `json:"airdrop_id"`
	Recipients int   `json:"recipients"`
}

// ReconcilerInterface defines the reconcile operation needed by activities.
// This allows for easy mocking in tests.
type ReconcilerInterface interface {
	Cycle(ctx context.Context) error
}

// EngineInterface defines the ledger operations needed by activities.
// This allows for easy mocking in tests.
type EngineInterface interface {
	ExecuteAirdrop(ctx context.Context, airdropID int64, recipients []int64) error
}

// RecipientResolver resolves the recipient set of an airdrop at execution
// time. The command layer supplies the implementation, since only it knows
// who is present in the target channel or holds the target role when the
// airdrop fires.
type RecipientResolver interface {
	ResolveRecipients(ctx context.Context, airdropID int64) ([]int64, error)
}

// ResolverFunc adapts a function to the RecipientResolver interface.
type ResolverFunc func(ctx context.Context, airdropID int64) ([]int64, error)

func (f ResolverFunc) ResolveRecipients(ctx context.Context, airdropID int64) ([]int64, error) {
	return f(ctx, airdropID)
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	reconciler ReconcilerInterface
	engine     EngineInterface
	resolver   RecipientResolver
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewActivities creates a new Activities instance with explicit
// dependencies. If m is nil, no metrics will be recorded.
func NewActivities(
	reconciler ReconcilerInterface,
	engine EngineInterface,
	resolver RecipientResolver,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		reconciler: reconciler,
		engine:     engine,
		resolver:   resolver,
		metrics:    m,
		logger:     logger,
	}
}

// ReconcileDeposits runs one deposit reconciliation cycle against the
// wallet daemon. The cycle is idempotent, so Temporal retries are safe.
func (a *Activities) ReconcileDeposits(ctx context.Context, input ReconcileInput) (*ReconcileResult, error) {
	a.logger.DebugContext(ctx, "running reconcile cycle", "trigger", input.Trigger)

	if err := a.reconciler.Cycle(ctx); err != nil {
		a.logger.ErrorContext(ctx, "reconcile cycle failed",
			"trigger", input.Trigger,
			"error", err,
		)
		return nil, fmt.Errorf("reconcile cycle failed: %w", err)
	}

	return &ReconcileResult{
		Trigger:     input.Trigger,
		CompletedAt: time.Now().UTC(),
	}, nil
}

// ExecuteAirdrop resolves the airdrop's recipients and pays it out. The
// engine treats an already-executed airdrop as a no-op, so a retried
// activity cannot pay twice.
func (a *Activities) ExecuteAirdrop(ctx context.Context, input ExecuteAirdropInput) (*ExecuteAirdropResult, error) {
	a.logger.InfoContext(ctx, "executing airdrop", "airdrop_id", input.AirdropID)

	recipients, err := a.resolver.ResolveRecipients(ctx, input.AirdropID)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to resolve airdrop recipients",
			"airdrop_id", input.AirdropID,
			"error", err,
		)
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}

	if err := a.engine.ExecuteAirdrop(ctx, input.AirdropID, recipients); err != nil {
		return nil, fmt.Errorf("failed to execute airdrop %d: %w", input.AirdropID, err)
	}

	return &ExecuteAirdropResult{
		AirdropID:  input.AirdropID,
		Recipients: len(recipients),
	}, nil
}
