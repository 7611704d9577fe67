// Package temporal runs document ingestion as Temporal workflows.
package temporal

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/efebarandurmaz/docintel/internal/ingest"
)

// IngestTimeout bounds a single ingestion activity.
const IngestTimeout = 30 * time.Minute

// IngestWorkflow runs the IngestDocument activity once. Ingestion appends to
// the index, so it is never retried.
func IngestWorkflow(ctx workflow.Context, req ingest.Request) (ingest.Result, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: IngestTimeout,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var a *Activities
	var res ingest.Result
	if err := workflow.ExecuteActivity(ctx, a.IngestDocument, req).Get(ctx, &res); err != nil {
		return ingest.Result{}, fmt.Errorf("ingest %s: %w", req.DocumentID, err)
	}

	workflow.GetLogger(ctx).Info("Ingestion finished", "document_id", res.DocumentID,
		"success", res.Success, "state", res.State)
	return res, nil
}
