package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/wahub/internal/alias"
	"github.com/user/wahub/internal/filter"
	"github.com/user/wahub/internal/tail"
)

var tailFlags struct {
	file         string
	peer         string
	kind         string
	grep         string
	where        string
	sinceTS      int64
	follow       bool
	once         bool
	timeoutSec   int
	windowSec    int
	jsonArray    bool
	requireFile  bool
	pollInterval time.Duration
}

func init() {
	rootCmd.AddCommand(tailCmd)
	f := tailCmd.Flags()
	f.StringVar(&tailFlags.file, "file", "", "event log file to tail")
	f.StringVar(&tailFlags.peer, "peer", "", "peer alias or number whose shard to tail")
	f.StringVar(&tailFlags.kind, "kind", "", "only records of this kind: received, sent or status")
	f.StringVar(&tailFlags.grep, "grep", "", "only records whose text matches this regex; a leading (?i) ignores case")
	f.StringVar(&tailFlags.where, "where", "", "only records for which this CEL expression is true")
	f.Int64Var(&tailFlags.sinceTS, "since-ts", 0, "only records with ts at or after this epoch-ms value; scans from the start")
	f.BoolVar(&tailFlags.follow, "follow", false, "stream matches until interrupted")
	f.BoolVar(&tailFlags.once, "once", false, "exit after the first match (requires --timeout)")
	f.IntVar(&tailFlags.timeoutSec, "timeout", 0, "seconds to wait in --once mode")
	f.IntVar(&tailFlags.windowSec, "window", 0, "collect matches for this many seconds, then exit")
	f.BoolVar(&tailFlags.jsonArray, "json-array", false, "print matches as one JSON array at exit")
	f.BoolVar(&tailFlags.requireFile, "require-file", false, "fail instead of waiting when the file does not exist")
	f.DurationVar(&tailFlags.pollInterval, "poll-interval", tail.DefaultPollInterval, "how often to check the file for changes")
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print event log records as they are appended, following rotation",
	Long: `Tail an event log and print the records that pass the filters.

Exactly one mode is required:
  --follow              stream until interrupted
  --once --timeout S    exit 0 on the first match, 1 if none arrives within S seconds
  --window S            print everything that matches within S seconds

Exit status is 0 on success, 1 on a --once timeout and 2 on usage errors.`,
	Args: cobra.NoArgs,
	RunE: runTail,
}

func tailOptions(cmd *cobra.Command) (tail.Options, error) {
	var opts tail.Options

	modes := 0
	if tailFlags.follow {
		modes++
		opts.Mode = tail.ModeFollow
	}
	if tailFlags.once {
		modes++
		opts.Mode = tail.ModeOnce
	}
	if tailFlags.windowSec > 0 {
		modes++
		opts.Mode = tail.ModeWindow
	}
	if modes != 1 {
		return opts, usagef("choose exactly one mode: --follow OR --once --timeout S OR --window S")
	}
	if tailFlags.once && tailFlags.timeoutSec <= 0 {
		return opts, usagef("--once requires --timeout <sec>")
	}
	if cmd.Flags().Changed("window") && tailFlags.windowSec <= 0 {
		return opts, usagef("--window must be positive")
	}

	opts.Timeout = time.Duration(tailFlags.timeoutSec) * time.Second
	opts.Window = time.Duration(tailFlags.windowSec) * time.Second
	opts.PollInterval = tailFlags.pollInterval
	opts.JSONArray = tailFlags.jsonArray
	opts.RequireFile = tailFlags.requireFile
	return opts, nil
}

func tailFilter(cmd *cobra.Command) (*filter.Filter, error) {
	fo := filter.Options{
		Kind:  tailFlags.kind,
		Grep:  tailFlags.grep,
		Where: tailFlags.where,
	}
	if cmd.Flags().Changed("since-ts") {
		fo.SinceTS = &tailFlags.sinceTS
	}
	f, err := filter.New(fo)
	if err != nil {
		return nil, usageError(err)
	}
	return f, nil
}

// tailPath resolves --file directly and --peer through the config's
// shard layout and alias book.
func tailPath() (string, error) {
	switch {
	case tailFlags.file != "" && tailFlags.peer != "":
		return "", usagef("specify only one of --file and --peer")
	case tailFlags.file != "":
		return tailFlags.file, nil
	case tailFlags.peer != "":
		cfg, err := loadConfig()
		if err != nil {
			return "", usageError(err)
		}
		book := alias.Load(cfg.AliasesFile())
		path, err := tail.ResolvePeerPath(cfg.PeerDir(), cfg.PerPrefix, cfg.PerSuffix, book, tailFlags.peer)
		if err != nil {
			return "", usageError(err)
		}
		return path, nil
	default:
		return "", usagef("specify --file PATH or --peer NAME")
	}
}

func runTail(cmd *cobra.Command, args []string) error {
	level := overrides.LogLevel
	if level == "" {
		level = os.Getenv("WA_HUB_LOG_LEVEL")
	}
	setupLogging(level)

	opts, err := tailOptions(cmd)
	if err != nil {
		return err
	}
	f, err := tailFilter(cmd)
	if err != nil {
		return err
	}
	path, err := tailPath()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tl := tail.New(path, f, opts)
	err = tl.Run(ctx, os.Stdout)
	slog.Debug("tail finished",
		"path", path,
		"rotations", tl.Rotations(),
		"filter", f.Stats(),
	)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, tail.ErrTimeout):
		return &exitError{code: 1, err: err}
	case errors.Is(err, tail.ErrNotFound):
		return usageError(err)
	default:
		return &exitError{code: 2, err: err}
	}
}
