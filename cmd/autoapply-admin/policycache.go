package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	policyCacheKeyPrefix = "policy:user:"
	policyScanBatchSize  = 200
)

type policyCacheListOptions struct {
	UserID string
	Limit  int
}

type policyCacheClearOptions struct {
	UserID string
	All    bool
	DryRun bool
	Yes    bool
}

func runListPolicyCache(cmdCtx *commandContext, args []string) error {
	opts, err := parsePolicyCacheListFlags(args)
	if err != nil {
		return err
	}

	client, err := connectRedisOnly(cmdCtx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", cerr)
		}
	}()

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultTaskCommandTimeout)
	defer cancel()

	entries, err := scanPolicyCacheKeys(ctx, client, buildPolicyCachePattern(opts.UserID), opts.Limit)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		return writeln(os.Stdout, "No cached apply policies found.")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if _, werr := fmt.Fprintln(w, "USER\tTTL"); werr != nil {
		return werr
	}
	for _, entry := range entries {
		if _, werr := fmt.Fprintf(w, "%s\t%s\n", entry.UserID, formatCacheTTL(entry.TTL)); werr != nil {
			return werr
		}
	}
	return w.Flush()
}

func runClearPolicyCache(cmdCtx *commandContext, args []string) error {
	opts, err := parsePolicyCacheClearFlags(args)
	if err != nil {
		return err
	}

	if confirmErr := confirmAction(policyCacheConfirmOptions{opts}, "clear cached apply policies"); confirmErr != nil {
		return confirmErr
	}

	client, err := connectRedisOnly(cmdCtx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", cerr)
		}
	}()

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultTaskCommandTimeout)
	defer cancel()

	deleted, err := deletePolicyCacheKeys(ctx, client, buildPolicyCachePattern(opts.UserID), opts.DryRun)
	if err != nil {
		return err
	}

	if opts.DryRun {
		return writef(os.Stdout, "Dry run: %d cached polic%s would be cleared.\n", deleted, pluralYies(deleted))
	}

	cmdCtx.Logger.Info("cleared policy cache entries", "count", deleted)
	return writef(os.Stdout, "Cleared %d cached polic%s.\n", deleted, pluralYies(deleted))
}

type policyCacheEntry struct {
	UserID string
	TTL    time.Duration
}

func buildPolicyCachePattern(userID string) string {
	if userID == "" {
		return policyCacheKeyPrefix + "*"
	}
	return policyCacheKeyPrefix + userID
}

func scanPolicyCacheKeys(
	ctx context.Context,
	client redis.UniversalClient,
	pattern string,
	limit int,
) ([]policyCacheEntry, error) {
	var entries []policyCacheEntry
	iter := client.Scan(ctx, 0, pattern, policyScanBatchSize).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		ttl, err := client.TTL(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("ttl for %q: %w", key, err)
		}
		entries = append(entries, policyCacheEntry{
			UserID: key[len(policyCacheKeyPrefix):],
			TTL:    ttl,
		})
		if limit > 0 && len(entries) >= limit {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan policy cache keys: %w", err)
	}
	return entries, nil
}

func deletePolicyCacheKeys(
	ctx context.Context,
	client redis.UniversalClient,
	pattern string,
	dryRun bool,
) (int64, error) {
	var deleted int64
	batch := make([]string, 0, policyScanBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if !dryRun {
			if err := client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("delete policy cache keys: %w", err)
			}
		}
		deleted += int64(len(batch))
		batch = batch[:0]
		return nil
	}

	iter := client.Scan(ctx, 0, pattern, policyScanBatchSize).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= policyScanBatchSize {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("scan policy cache keys: %w", err)
	}
	if err := flush(); err != nil {
		return deleted, err
	}
	return deleted, nil
}

func formatCacheTTL(ttl time.Duration) string {
	switch {
	case ttl < 0:
		return "none"
	case ttl < time.Second:
		return ttl.String()
	default:
		return ttl.Truncate(time.Second).String()
	}
}

func pluralYies(n int64) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

type policyCacheConfirmOptions struct {
	opts policyCacheClearOptions
}

func (p policyCacheConfirmOptions) IsDryRun() bool { return p.opts.DryRun }
func (p policyCacheConfirmOptions) IsYes() bool    { return p.opts.Yes }
func (p policyCacheConfirmOptions) GetWarning() string {
	return "WARNING: this will clear every cached apply policy; the next gate evaluation reloads from Postgres."
}

func (p policyCacheConfirmOptions) GetTarget() string {
	if p.opts.All {
		return ""
	}
	return fmt.Sprintf("user %q", p.opts.UserID)
}

func parsePolicyCacheListFlags(args []string) (policyCacheListOptions, error) {
	fs := flag.NewFlagSet("list-policy-cache", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := policyCacheListOptions{Limit: 100}
	fs.StringVar(&opts.UserID, "user", "", "Only show the cache entry for this user")
	fs.IntVar(&opts.Limit, "limit", 100, "Maximum number of entries to display")

	if err := fs.Parse(args); err != nil {
		return policyCacheListOptions{}, err
	}

	if opts.Limit <= 0 {
		return policyCacheListOptions{}, errors.New("--limit must be greater than zero")
	}
	return opts, nil
}

func parsePolicyCacheClearFlags(args []string) (policyCacheClearOptions, error) {
	fs := flag.NewFlagSet("clear-policy-cache", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts policyCacheClearOptions
	fs.StringVar(&opts.UserID, "user", "", "Only clear the cache entry for this user")
	fs.BoolVar(&opts.All, "all", false, "Clear cache entries for every user")
	fs.BoolVar(&opts.DryRun, "dry-run", false, "Report how many entries would be cleared without deleting them")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt")

	if err := fs.Parse(args); err != nil {
		return policyCacheClearOptions{}, err
	}

	if opts.UserID == "" && !opts.All {
		return policyCacheClearOptions{}, errors.New("--user is required (or use --all)")
	}
	if opts.UserID != "" && opts.All {
		return policyCacheClearOptions{}, errors.New("--user and --all are mutually exclusive")
	}
	return opts, nil
}
