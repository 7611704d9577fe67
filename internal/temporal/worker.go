package temporal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"

	"github.com/efebarandurmaz/docintel/internal/ingest"
)

// Dial connects to the Temporal frontend, logging through slog.
func Dial(hostPort, namespace string) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  hostPort,
		Namespace: namespace,
		Logger:    tlog.NewStructuredLogger(slog.Default()),
	})
	if err != nil {
		return nil, fmt.Errorf("temporal client: %w", err)
	}
	return c, nil
}

// StartWorker creates and starts a worker that runs ingestions with proc.
func StartWorker(c client.Client, taskQueue string, proc ingest.Processor) (worker.Worker, error) {
	w := worker.New(c, taskQueue, worker.Options{
		// One ingestion at a time against the process-local index.
		MaxConcurrentActivityExecutionSize: 1,
	})

	w.RegisterWorkflow(IngestWorkflow)
	w.RegisterActivity(&Activities{Processor: proc})

	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("starting worker: %w", err)
	}
	return w, nil
}

// workflowStarter is the part of client.Client used by Scheduler.
type workflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Scheduler implements ingest.Scheduler by starting IngestWorkflow.
type Scheduler struct {
	client    workflowStarter
	taskQueue string
}

// NewScheduler creates a Scheduler on taskQueue.
func NewScheduler(c client.Client, taskQueue string) *Scheduler {
	return &Scheduler{client: c, taskQueue: taskQueue}
}

// WorkflowID returns the workflow id used for a job.
func WorkflowID(jobID string) string {
	return "ingest-" + jobID
}

// Submit starts the workflow and returns the job id.
func (s *Scheduler) Submit(ctx context.Context, req ingest.Request) (string, error) {
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	run, err := s.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        WorkflowID(req.JobID),
		TaskQueue: s.taskQueue,
	}, IngestWorkflow, req)
	if err != nil {
		return "", fmt.Errorf("starting ingest workflow: %w", err)
	}
	slog.Info("Ingest workflow started", "document_id", req.DocumentID, "job_id", req.JobID,
		"workflow_id", run.GetID(), "run_id", run.GetRunID())
	return req.JobID, nil
}

var _ ingest.Scheduler = (*Scheduler)(nil)
