package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// ReconcileWorkflow runs one deposit reconciliation cycle. It is triggered
// by a Temporal schedule at the configured poll interval, and once at
// worker startup for recovery after downtime.
//
// All reconciliation logic lives in the activity; the workflow only adds
// retry and timeout policy. The activity is idempotent, so overlapping or
// retried runs cannot double-credit a deposit.
func ReconcileWorkflow(ctx workflow.Context, input ReconcileInput) (*ReconcileResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ReconcileWorkflow started", "trigger", input.Trigger)

	activityOptions := workflow.ActivityOptions{
		// A hung wallet daemon is cut here rather than stalling the
		// schedule forever.
		StartToCloseTimeout: 120 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var result *ReconcileResult
	err := workflow.ExecuteActivity(ctx, a.ReconcileDeposits, input).Get(ctx, &result)
	if err != nil {
		logger.Error("reconcile activity failed", "trigger", input.Trigger, "error", err)
		return nil, fmt.Errorf("reconcile activity failed: %w", err)
	}

	logger.Info("ReconcileWorkflow completed", "trigger", input.Trigger)
	return result, nil
}

// AirdropWorkflowInput contains the input parameters for a scheduled
// airdrop.
type AirdropWorkflowInput struct {
	AirdropID int64     `json:"airdrop_id"`
	ExecuteAt time.Time `json:"execute_at"`
}

// AirdropWorkflow sleeps until the airdrop's execution time and then pays
// it out. Cancelling the workflow before the timer fires abandons the
// payout; the airdrop row itself is cancelled by the API.
func AirdropWorkflow(ctx workflow.Context, input AirdropWorkflowInput) (*ExecuteAirdropResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("AirdropWorkflow started",
		"airdrop_id", input.AirdropID,
		"execute_at", input.ExecuteAt,
	)

	if delay := input.ExecuteAt.Sub(workflow.Now(ctx)); delay > 0 {
		if err := workflow.Sleep(ctx, delay); err != nil {
			// Cancelled while waiting.
			logger.Info("airdrop wait interrupted", "airdrop_id", input.AirdropID, "error", err)
			return nil, err
		}
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 60 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    5,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var result *ExecuteAirdropResult
	err := workflow.ExecuteActivity(ctx, a.ExecuteAirdrop, ExecuteAirdropInput{AirdropID: input.AirdropID}).Get(ctx, &result)
	if err != nil {
		logger.Error("airdrop activity failed", "airdrop_id", input.AirdropID, "error", err)
		return nil, fmt.Errorf("airdrop activity failed: %w", err)
	}

	logger.Info("AirdropWorkflow completed",
		"airdrop_id", input.AirdropID,
		"recipients", result.Recipients,
	)
	return result, nil
}
