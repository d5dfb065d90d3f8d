package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/autoapply/autoapply/internal/data"
	"github.com/autoapply/autoapply/internal/domain/model"
)

const defaultTaskCommandTimeout = time.Minute

type taskStatsOptions struct {
	Type string
}

type requeueOptions struct {
	Type   string
	Limit  int
	DryRun bool
	Yes    bool
}

func runTaskStats(cmdCtx *commandContext, args []string) error {
	opts, err := parseTaskStatsFlags(args)
	if err != nil {
		return err
	}

	taskTypes, err := resolveTaskTypes(opts.Type)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, defaultTaskCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		repo := data.NewTaskRepo(db, data.TaskRepoConfig{Logger: cmdCtx.Logger})

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		if _, werr := fmt.Fprintln(w, "TYPE\tPENDING\tRUNNING\tCOMPLETED\tFAILED"); werr != nil {
			return werr
		}
		for _, taskType := range taskTypes {
			stats, statsErr := repo.Stats(ctx, taskType)
			if statsErr != nil {
				return fmt.Errorf("stats for %s: %w", taskType, statsErr)
			}
			if _, werr := fmt.Fprintf(
				w,
				"%s\t%d\t%d\t%d\t%d\n",
				taskType,
				stats.Pending,
				stats.Running,
				stats.Completed,
				stats.Failed,
			); werr != nil {
				return werr
			}
		}
		return w.Flush()
	})
}

func runRequeueFailed(cmdCtx *commandContext, args []string) error {
	opts, err := parseRequeueFlags(args)
	if err != nil {
		return err
	}

	if _, err = resolveTaskTypes(opts.Type); err != nil {
		return err
	}

	if confirmErr := confirmAction(requeueConfirmOptions{opts}, "requeue dead-lettered tasks"); confirmErr != nil {
		return confirmErr
	}

	return withDatabase(cmdCtx, defaultTaskCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		if opts.DryRun {
			count, countErr := countFailedTasks(ctx, db, opts)
			if countErr != nil {
				return countErr
			}
			return writef(os.Stdout, "Dry run: %d failed task(s) would be requeued.\n", count)
		}

		requeued, requeueErr := requeueFailedTasks(ctx, db, opts)
		if requeueErr != nil {
			return requeueErr
		}

		cmdCtx.Logger.Info("requeued failed tasks", "count", requeued, "type", opts.Type)
		return writef(os.Stdout, "Requeued %d task(s).\n", requeued)
	})
}

func countFailedTasks(ctx context.Context, db *sql.DB, opts requeueOptions) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT id FROM tasks
			WHERE status = 'failed' AND ($1 = '' OR type = $1)
			ORDER BY updated_at
			LIMIT $2
		) candidates`, opts.Type, opts.Limit).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count failed tasks: %w", err)
	}
	return count, nil
}

func requeueFailedTasks(ctx context.Context, db *sql.DB, opts requeueOptions) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE tasks SET
			status = 'pending',
			retry_count = 0,
			last_error = NULL,
			lease_expires_at = NULL,
			scheduled_at = now(),
			updated_at = now()
		WHERE id IN (
			SELECT id FROM tasks
			WHERE status = 'failed' AND ($1 = '' OR type = $1)
			ORDER BY updated_at
			LIMIT $2
		)`, opts.Type, opts.Limit)
	if err != nil {
		return 0, fmt.Errorf("requeue failed tasks: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

// resolveTaskTypes maps the --type flag to concrete task types; empty means all.
func resolveTaskTypes(typeFlag string) ([]model.TaskType, error) {
	switch typeFlag {
	case "":
		return []model.TaskType{model.TaskTypeDiscovery, model.TaskTypeApply}, nil
	case string(model.TaskTypeDiscovery):
		return []model.TaskType{model.TaskTypeDiscovery}, nil
	case string(model.TaskTypeApply):
		return []model.TaskType{model.TaskTypeApply}, nil
	default:
		return nil, fmt.Errorf("invalid task type %q; expected %q or %q", typeFlag, model.TaskTypeDiscovery, model.TaskTypeApply)
	}
}

type requeueConfirmOptions struct {
	opts requeueOptions
}

func (r requeueConfirmOptions) IsDryRun() bool { return r.opts.DryRun }
func (r requeueConfirmOptions) IsYes() bool    { return r.opts.Yes }
func (r requeueConfirmOptions) GetWarning() string {
	return "WARNING: this will requeue all dead-lettered tasks for another full retry cycle."
}

func (r requeueConfirmOptions) GetTarget() string {
	if r.opts.Type == "" {
		return ""
	}
	return fmt.Sprintf("task type %q (limit %d)", r.opts.Type, r.opts.Limit)
}

func parseTaskStatsFlags(args []string) (taskStatsOptions, error) {
	fs := flag.NewFlagSet("task-stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts taskStatsOptions
	fs.StringVar(&opts.Type, "type", "", "Task type to inspect (discovery or apply); all types when omitted")

	if err := fs.Parse(args); err != nil {
		return taskStatsOptions{}, err
	}
	return opts, nil
}

func parseRequeueFlags(args []string) (requeueOptions, error) {
	fs := flag.NewFlagSet("requeue-failed", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := requeueOptions{Limit: 100}
	fs.StringVar(&opts.Type, "type", "", "Task type to requeue (discovery or apply); all types when omitted")
	fs.IntVar(&opts.Limit, "limit", 100, "Maximum number of tasks to requeue")
	fs.BoolVar(&opts.DryRun, "dry-run", false, "Report how many tasks would be requeued without changing them")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt")

	if err := fs.Parse(args); err != nil {
		return requeueOptions{}, err
	}

	if opts.Limit <= 0 {
		return requeueOptions{}, errors.New("--limit must be greater than zero")
	}
	return opts, nil
}
