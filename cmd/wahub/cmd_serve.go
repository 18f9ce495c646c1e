package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/wahub/internal/alias"
	"github.com/user/wahub/internal/config"
	"github.com/user/wahub/internal/eventlog"
	"github.com/user/wahub/internal/outbox"
	"github.com/user/wahub/internal/replicator"
	"github.com/user/wahub/internal/scheduler"
	"github.com/user/wahub/internal/state"
	"github.com/user/wahub/internal/types"
	"github.com/user/wahub/internal/webhook"
	"github.com/user/wahub/internal/worker"
)

const pidFileName = "wa-hub.pid"

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&overrides.LPTimeoutSec, "lp-timeout", 0, "long-poll wait in seconds")
	serveCmd.Flags().IntVar(&overrides.PullLimit, "limit", 0, "records per pull or long-poll request")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the replication service and the send pipe",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(dir string) (string, error) {
	pidPath := filepath.Join(dir, pidFileName)
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.ArchiveRetentionDays > 0 {
		if err := scheduler.ValidSchedule(cfg.RetentionSchedule); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}

	restart, err := serve(cfg)
	if err != nil || !restart {
		return err
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}
	slog.Info("re-executing", "path", execPath)
	return syscall.Exec(execPath, os.Args, os.Environ())
}

// serve runs every component until SIGINT or SIGTERM, or until one of
// them fails. restart reports a SIGHUP.
func serve(cfg *config.Config) (restart bool, err error) {
	for _, dir := range []string{cfg.Data(), cfg.PeerDir(), filepath.Dir(cfg.GlobalLogPath())} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("create data dir: %w", err)
		}
	}

	pidPath, err := writePIDFile(cfg.Data())
	if err != nil {
		return false, err
	}
	defer os.Remove(pidPath)

	policy := func(threshold int64) eventlog.RotationPolicy {
		return eventlog.RotationPolicy{Threshold: threshold, TimeFormat: cfg.ArchiveTimeFmt}
	}
	global, err := eventlog.Open(cfg.GlobalLogPath(), policy(cfg.RotateGlobalBytes))
	if err != nil {
		return false, fmt.Errorf("open global log: %w", err)
	}
	pool := eventlog.NewPool(cfg.PeerDir(), cfg.PerPrefix, cfg.PerSuffix, policy(cfg.RotatePeerBytes))
	journal := eventlog.NewJournal(global, pool)
	defer journal.Close()

	// The alias book is re-read for every batch and send so edits apply
	// without a restart.
	aliases := func() types.PeerResolver { return alias.Load(cfg.AliasesFile()) }

	client := worker.New(cfg.Worker, cfg.PhoneID)
	client.SetToken(cfg.WorkerToken)

	backoff := replicator.Backoff{InitialDelay: cfg.RetryBackoff(), Multiplier: 1, MaxDelay: cfg.RetryBackoff()}
	repl := replicator.New(client, journal, state.NewCursorStore(cfg.StatePath()), aliases, replicator.Options{
		Limit:     cfg.PullLimit,
		LPTimeout: cfg.LPTimeout(),
		Backoff:   backoff,
	})

	sender := outbox.NewSender(client, state.NewMetaLog(cfg.MetaLogPath()), journal, aliases, cfg.SendRatePerSec)
	box := outbox.New(sender, aliases, int64(max(cfg.SendConcurrency, 1)))

	fifo, err := outbox.OpenFIFO(cfg.FIFO())
	if err != nil {
		return false, fmt.Errorf("open send pipe: %w", err)
	}
	defer fifo.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var hup atomic.Bool
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	defer signal.Stop(hupCh)
	go func() {
		select {
		case <-hupCh:
			slog.Info("received SIGHUP, restarting")
			hup.Store(true)
			stop()
		case <-ctx.Done():
		}
	}()

	box.Start(ctx)
	defer box.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return repl.Run(gctx) })
	g.Go(func() error { return fifo.Run(gctx, box) })

	if cfg.HTTP.Enabled {
		srv := webhook.NewServer(webhook.Deps{
			Submitter: box,
			Cursor:    repl.Since,
			Shards:    journal.Shards,
			Version:   version,
		})
		g.Go(func() error { return srv.ListenAndServe(gctx, cfg.HTTP.Listen) })
	}

	if cfg.ArchiveRetentionDays > 0 {
		sched := scheduler.New()
		pruner := &eventlog.Pruner{
			GlobalPath: cfg.GlobalLogPath(),
			PeerDir:    cfg.PeerDir(),
			PeerPrefix: cfg.PerPrefix,
			PeerSuffix: cfg.PerSuffix,
			MaxAge:     cfg.RetentionPeriod(),
		}
		if err := sched.AddRetention(cfg.RetentionSchedule, pruner); err != nil {
			return false, fmt.Errorf("schedule retention: %w", err)
		}
		sched.Start()
		defer sched.Stop(context.Background())
	}

	slog.Info("wahub started",
		"version", version,
		"worker", cfg.Worker,
		"global_log", cfg.GlobalLogPath(),
		"peer_dir", cfg.PeerDir(),
		"state", cfg.StatePath(),
		"fifo", fifo.Path(),
		"http", cfg.HTTP.Enabled,
		"pid_file", pidPath,
	)

	err = g.Wait()
	slog.Info("shutting down", "since", repl.Since())
	return hup.Load() && err == nil, err
}
