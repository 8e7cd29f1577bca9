package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/minersworld/tipledger/service/db"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// ReconcileScheduleID identifies the single reconcile schedule.
const ReconcileScheduleID = "reconcile-deposits"

// Client wraps the Temporal SDK client with ledger-specific schedule and
// workflow operations.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// EnsureReconcileSchedule creates the reconcile schedule if it does not
// exist. An already-existing schedule is left untouched, so repeated
// worker startups are safe.
func (c *Client) EnsureReconcileSchedule(ctx context.Context, interval time.Duration) error {
	c.logger.Debug("ensuring reconcile schedule",
		"schedule_id", ReconcileScheduleID,
		"interval", interval,
	)

	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: ReconcileScheduleID,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{
				{Every: interval},
			},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        "reconcile-deposits-run",
			Workflow:  "ReconcileWorkflow",
			TaskQueue: c.taskQueue,
			Args:      []interface{}{ReconcileInput{Trigger: "schedule"}},
		},
		// A cycle that outlives its interval must not overlap the next
		// one; skipping keeps the idempotent cycles serialized.
		Overlap: enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
		Memo: map[string]interface{}{
			"created_by": "tipledger",
		},
	})
	if err != nil {
		var already *serviceerror.AlreadyExists
		if errors.As(err, &already) {
			c.logger.Debug("reconcile schedule already exists", "schedule_id", ReconcileScheduleID)
			return nil
		}
		c.logger.Error("failed to create reconcile schedule",
			"schedule_id", ReconcileScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", ReconcileScheduleID, err)
	}

	c.logger.Info("reconcile schedule created",
		"schedule_id", ReconcileScheduleID,
		"interval", interval,
	)
	return nil
}

// DeleteReconcileSchedule removes the reconcile schedule.
func (c *Client) DeleteReconcileSchedule(ctx context.Context) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, ReconcileScheduleID)
	if err := handle.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete schedule %q: %w", ReconcileScheduleID, err)
	}
	c.logger.Info("reconcile schedule deleted", "schedule_id", ReconcileScheduleID)
	return nil
}

// RunStartupReconcile executes one reconcile workflow immediately. Called
// once at worker startup so deposits that landed while the service was
// down are recovered before the schedule takes over.
func (c *Client) RunStartupReconcile(ctx context.Context) error {
	_, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "reconcile-deposits-startup",
		TaskQueue: c.taskQueue,
		// A stale startup run from a crashed worker is superseded.
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}, "ReconcileWorkflow", ReconcileInput{Trigger: "startup"})
	if err != nil {
		return fmt.Errorf("failed to start startup reconcile: %w", err)
	}
	c.logger.Info("startup reconcile workflow started")
	return nil
}

// ScheduleAirdrop starts the delayed workflow that will pay out the
// airdrop at its execution time.
func (c *Client) ScheduleAirdrop(ctx context.Context, airdrop *db.Airdrop) error {
	id := airdropWorkflowID(airdrop.ID)

	_, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: c.taskQueue,
	}, "AirdropWorkflow", AirdropWorkflowInput{
		AirdropID: airdrop.ID,
		ExecuteAt: airdrop.ExecuteAt,
	})
	if err != nil {
		c.logger.Error("failed to schedule airdrop workflow",
			"airdrop_id", airdrop.ID,
			"workflow_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to schedule airdrop %d: %w", airdrop.ID, err)
	}

	c.logger.Info("airdrop workflow scheduled",
		"airdrop_id", airdrop.ID,
		"workflow_id", id,
		"execute_at", airdrop.ExecuteAt,
	)
	return nil
}

// CancelAirdropWorkflow cancels a pending airdrop's timer workflow. A
// workflow that already completed or never existed is not an error; the
// airdrop row is the source of truth.
func (c *Client) CancelAirdropWorkflow(ctx context.Context, airdropID int64) error {
	id := airdropWorkflowID(airdropID)
	if err := c.client.CancelWorkflow(ctx, id, ""); err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to cancel airdrop workflow %q: %w", id, err)
	}
	c.logger.Info("airdrop workflow cancelled", "airdrop_id", airdropID)
	return nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow
// operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// airdropWorkflowID generates the workflow ID for an airdrop.
func airdropWorkflowID(airdropID int64) string {
	return fmt.Sprintf("airdrop-%d", airdropID)
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
