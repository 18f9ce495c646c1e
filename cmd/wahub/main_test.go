package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/user/wahub/internal/config"
	"github.com/user/wahub/internal/tail"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.New("boom"), 1},
		{usagef("bad flag"), 2},
		{&exitError{code: 1, err: tail.ErrTimeout}, 1},
		{fmt.Errorf("wrapped: %w", usagef("x")), 2},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.want, got)
		}
	}
}

func TestTailOptionsModes(t *testing.T) {
	tests := []struct {
		name    string
		set     func()
		want    tail.Mode
		wantErr bool
	}{
		{name: "follow", set: func() { tailFlags.follow = true }, want: tail.ModeFollow},
		{name: "once", set: func() { tailFlags.once, tailFlags.timeoutSec = true, 5 }, want: tail.ModeOnce},
		{name: "window", set: func() { tailFlags.windowSec = 3 }, want: tail.ModeWindow},
		{name: "none", set: func() {}, wantErr: true},
		{name: "two modes", set: func() { tailFlags.follow, tailFlags.windowSec = true, 3 }, wantErr: true},
		{name: "once without timeout", set: func() { tailFlags.once = true }, wantErr: true},
	}

	saved := tailFlags
	defer func() { tailFlags = saved }()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tailFlags = saved
			tt.set()
			opts, err := tailOptions(tailCmd)
			if tt.wantErr {
				if exitCode(err) != 2 {
					t.Fatalf("expected usage error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if opts.Mode != tt.want {
				t.Errorf("expected mode %v, got %v", tt.want, opts.Mode)
			}
		})
	}
}

func TestTailFilterRejectsBadKind(t *testing.T) {
	saved := tailFlags
	defer func() { tailFlags = saved }()

	tailFlags.kind = "deleted"
	if _, err := tailFilter(tailCmd); exitCode(err) != 2 {
		t.Errorf("expected usage error, got %v", err)
	}
}

func TestRunSetup(t *testing.T) {
	cfg := config.Defaults()
	cfg.PhoneID = "old"
	in := bufio.NewScanner(strings.NewReader("https://worker.example/\n\ntok\n/srv/hub\n1048576\n"))
	var out bytes.Buffer

	runSetup(cfg, in, &out)

	if cfg.Worker != "https://worker.example" {
		t.Errorf("expected trimmed worker, got %q", cfg.Worker)
	}
	if cfg.PhoneID != "old" {
		t.Errorf("empty answer should keep default, got %q", cfg.PhoneID)
	}
	if cfg.WorkerToken != "tok" || cfg.BaseDir != "/srv/hub" {
		t.Errorf("unexpected answers: %q %q", cfg.WorkerToken, cfg.BaseDir)
	}
	if cfg.RotateGlobalBytes != 1048576 || cfg.RotatePeerBytes != 1048576 {
		t.Errorf("expected rotation thresholds set, got %d %d", cfg.RotateGlobalBytes, cfg.RotatePeerBytes)
	}
	if !strings.Contains(out.String(), "Phone number id [old]: ") {
		t.Errorf("expected default shown in prompt, got %q", out.String())
	}
}
