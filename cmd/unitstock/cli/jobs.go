package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/unitstock/jobs"
)

// Job names accepted by Trigger besides the raw task types.
const (
	JobIntegrityScan      = "integrity-scan"
	JobIntegrityRepair    = "integrity-repair"
	JobIdempotencyCleanup = "idempotency-cleanup"
)

// ErrUsage marks malformed command lines.
var ErrUsage = errors.New("usage: unitstock jobs <trigger NAME [-retention DURATION] | stats | scheduled [-size N]>")

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers against the given Redis connection.
func NewJobsCLI(redisOpts asynq.RedisClientOpt) (*JobsCLI, error) {
	if redisOpts.Addr == "" {
		return nil, errors.New("jobs cli: redis address required")
	}
	client := asynq.NewClient(redisOpts)
	inspector := asynq.NewInspector(redisOpts)
	return &JobsCLI{client: client, inspector: inspector}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Run dispatches a jobs subcommand and writes its result to out.
func (c *JobsCLI) Run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return ErrUsage
	}
	switch args[0] {
	case "trigger":
		fs := flag.NewFlagSet("trigger", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		retention := fs.Duration("retention", 0, "idempotency key retention")
		if len(args) < 2 {
			return ErrUsage
		}
		if err := fs.Parse(args[2:]); err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
		info, err := c.trigger(ctx, args[1], *retention)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return nil
	case "stats":
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return nil
	case "scheduled":
		fs := flag.NewFlagSet("scheduled", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		size := fs.Int("size", 10, "page size")
		if err := fs.Parse(args[1:]); err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
		tasks, err := c.ListScheduled(ctx, *size)
		if err != nil {
			return err
		}
		return writeScheduled(out, tasks)
	default:
		return ErrUsage
	}
}

// Trigger enqueues a supported job by name with default payload.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	return c.trigger(ctx, name, 0)
}

func (c *JobsCLI) trigger(ctx context.Context, name string, retention time.Duration) (*asynq.TaskInfo, error) {
	task, err := taskFor(name, retention)
	if err != nil {
		return nil, err
	}
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	return c.client.EnqueueContext(ctx, task)
}

func taskFor(name string, retention time.Duration) (*asynq.Task, error) {
	switch name {
	case JobIntegrityScan, jobs.TaskInventoryIntegrityScan:
		return jobs.NewIntegrityScanTask(jobs.IntegrityScanPayload{})
	case JobIntegrityRepair:
		return jobs.NewIntegrityScanTask(jobs.IntegrityScanPayload{AutoRepair: true})
	case JobIdempotencyCleanup, jobs.TaskIdempotencyCleanup:
		return jobs.NewIdempotencyCleanupTask(retention)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

func writeScheduled(out io.Writer, tasks []*asynq.TaskInfo) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tNEXT RUN")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.ID, t.Type, t.NextProcessAt.Format(time.RFC3339))
	}
	return tw.Flush()
}
