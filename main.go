package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dhcgn/mailsort/assort"
	"github.com/dhcgn/mailsort/client"
	"github.com/dhcgn/mailsort/cmd"
	"github.com/dhcgn/mailsort/config"
	"github.com/dhcgn/mailsort/git"
	"github.com/dhcgn/mailsort/keyword"
	"github.com/dhcgn/mailsort/mbox"
	"github.com/dhcgn/mailsort/pool"
	"github.com/dhcgn/mailsort/progress"
	"github.com/dhcgn/mailsort/runner"
	"github.com/dhcgn/mailsort/stats"
	"github.com/dhcgn/mailsort/store"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "mailsort",
		Short:        "Sort new mailing list mail into maildir folders",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			logger = logger.With("run", uuid.NewString())
			slog.SetDefault(logger)
			logger.Info("starting mailsort", "root", cfg.Root, "mbox", cfg.MboxPath, "newDir", cfg.NewDir, "dryRun", cfg.DryRun)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	rootCmd.AddCommand(cmd.NewMboxStatsCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) (err error) {
	started := time.Now()
	metrics := stats.NewMetrics()
	if cfg.MetricsFile != "" {
		defer func() {
			metrics.ObserveRun(started, err)
			if werr := metrics.WriteFile(cfg.MetricsFile); werr != nil {
				logger.Warn("could not write metrics", "path", cfg.MetricsFile, "err", werr)
			}
		}()
	}

	var repo *git.Repo
	if cfg.Git != nil && !cfg.DryRun {
		repo = git.Open(cfg.Root, logger)
		if err := repo.RequireClean(ctx); err != nil {
			return err
		}
		if cfg.Git.Pull {
			if err := repo.Pull(ctx); err != nil {
				return err
			}
		}
	}

	folders := assort.NewFolders(cfg.Root, cfg.Folders)
	if !cfg.DryRun {
		if err := folders.Init(); err != nil {
			return err
		}
	}

	newDir := cfg.NewDir
	var reporter *progress.Reporter
	if cfg.MboxPath != "" {
		dir, cleanup, err := pool.NewTemp()
		if err != nil {
			return err
		}
		defer func() {
			if cerr := cleanup(); cerr != nil {
				logger.Warn("could not remove pool", "dir", dir, "err", cerr)
			}
		}()
		if reporter, err = importMbox(ctx, cfg, dir, logger, metrics); err != nil {
			return fmt.Errorf("import %s: %w", cfg.MboxPath, err)
		}
		newDir = dir
	}

	summary, err := sortMail(cfg, folders, store.Maildir{Name: "new", Path: newDir}, logger, metrics)
	if err != nil {
		return err
	}
	reporter.PrintPlan(summary)

	return finish(ctx, cfg, repo, logger)
}

func importMbox(ctx context.Context, cfg config.Config, dir string, logger *slog.Logger, metrics *stats.Metrics) (*progress.Reporter, error) {
	var total int
	if cfg.LogLevel == "info" {
		n, err := mbox.CountMessages(cfg.MboxPath)
		if err != nil {
			return nil, err
		}
		total = n
	}

	r := runner.New(ctx, logger)
	summary := stats.NewReporter(r, logger)
	reporter := progress.NewReporter(r, progress.New(total, cfg.LogLevel), logger)

	readerOpts := mbox.Options{
		Path: cfg.MboxPath,
		Filter: keyword.FilterOptions{
			IncludeHeader: cfg.IncludeHeader,
			IncludeBody:   cfg.IncludeBody,
			ExcludeHeader: cfg.ExcludeHeader,
			ExcludeBody:   cfg.ExcludeBody,
		},
	}
	if _, err := mbox.NewProducer(readerOpts, r, logger); err != nil {
		r.CloseMailbox()
		_ = r.Start()
		return nil, fmt.Errorf("mbox.NewProducer: %w", err)
	}
	if _, err := pool.NewWriter(pool.Options{Dir: dir}, r, logger); err != nil {
		r.AddStage("discard", discard(r))
		_ = r.Start()
		return nil, fmt.Errorf("pool.NewWriter: %w", err)
	}

	err := r.Start()
	metrics.ObserveImport(summary.Summary())
	reporter.PrintImport(summary.Summary())
	if err == nil {
		err = ctx.Err()
	}
	return reporter, err
}

// discard drains the bridge so a runner without a writer can shut down.
func discard(r *runner.Runner) runner.StageFunc {
	return func(ctx context.Context) error {
		for range r.Writes() {
		}
		return nil
	}
}

func sortMail(cfg config.Config, folders assort.Folders, newMail store.Maildir, logger *slog.Logger, metrics *stats.Metrics) (assort.Summary, error) {
	mails, err := assort.Collect(folders, newMail, cfg.Rules)
	if err != nil {
		return assort.Summary{}, fmt.Errorf("collect mail: %w", err)
	}

	plan, err := assort.Build(folders, cfg.Rules, mails, logger)
	if err != nil {
		var conflictErr *assort.ConflictError
		if errors.As(err, &conflictErr) {
			metrics.ObserveConflicts(conflictErr.Conflicts)
			for _, c := range conflictErr.Conflicts {
				logger.Error("conflict", "phase", conflictErr.Phase, "kind", c.Kind, "detail", c.Detail, "paths", c.Paths)
			}
			return assort.Summary{}, fmt.Errorf("nothing was changed: %w", err)
		}
		var cycleErr *assort.CycleError
		if errors.As(err, &cycleErr) {
			logger.Error("reply cycle", "paths", cycleErr.Paths)
		}
		return assort.Summary{}, err
	}

	summary := plan.Summary()
	logger.Info("planned new mail", summary.LogAttrs()...)
	metrics.ObservePlan(summary)

	err = plan.Execute(cfg.DryRun, func(p assort.Planned, err error) {
		if err != nil {
			logger.Error("could not apply action", "src", p.Message.Path, "action", p.Action.String(), "err", err)
		}
	})
	if err != nil {
		return summary, fmt.Errorf("execute plan: %w", err)
	}
	return summary, nil
}

// finish commits the sorted mail, hands over to the mail client and commits
// what the user changed there.
func finish(ctx context.Context, cfg config.Config, repo *git.Repo, logger *slog.Logger) error {
	var committed bool
	if repo != nil {
		c, err := repo.Snapshot(ctx, "update")
		if err != nil {
			return err
		}
		committed = c
	}

	if cfg.ClientCommand != nil && !cfg.DryRun {
		logger.Info("starting mail client", "command", cfg.ClientCommand)
		if err := client.Run(ctx, cfg.ClientCommand, cfg.Root); err != nil {
			return err
		}
	}

	if repo == nil {
		return nil
	}
	c, err := repo.Snapshot(ctx, "read")
	if err != nil {
		return err
	}
	committed = committed || c
	if cfg.Git.Push && committed {
		return repo.Push(ctx)
	}
	return nil
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("mailsort-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
