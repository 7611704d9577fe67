package temporal

import (
	"context"

	"go.temporal.io/sdk/activity"

	"github.com/efebarandurmaz/docintel/internal/ingest"
)

// Activities runs ingestion inside a Temporal worker. Register a pointer so
// the worker resolves methods by name.
type Activities struct {
	Processor ingest.Processor
}

// IngestDocument processes one document. Pipeline failures are part of the
// Result, so the activity only errors when it could not run at all.
func (a *Activities) IngestDocument(ctx context.Context, req ingest.Request) (ingest.Result, error) {
	info := activity.GetInfo(ctx)
	if req.JobID == "" {
		req.JobID = info.WorkflowExecution.ID
	}
	activity.GetLogger(ctx).Info("Ingesting document", "document_id", req.DocumentID, "job_id", req.JobID, "attempt", info.Attempt)
	return a.Processor.Process(ctx, req), nil
}
