// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Command profuzz is the reference CLI: a `fuzz` subcommand that runs the
// engine against the blob reference Corpus over TCP, and a `triage`
// subcommand that replays a crash journal to isolate reproducers.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/bbfuzz/profuzz/pkg/config"
	"github.com/bbfuzz/profuzz/pkg/fuzzer"
	"github.com/bbfuzz/profuzz/pkg/log"
	"github.com/bbfuzz/profuzz/pkg/mutator"
	"github.com/bbfuzz/profuzz/pkg/output"
	"github.com/bbfuzz/profuzz/pkg/reference/blob"
	"github.com/bbfuzz/profuzz/pkg/reference/tcp"
	"github.com/bbfuzz/profuzz/pkg/stats"
	"github.com/bbfuzz/profuzz/pkg/traits"
	"github.com/bbfuzz/profuzz/pkg/triage"
	"golang.org/x/sync/errgroup"
)

func main() {
	verbose := flag.Int("verbose", 0, "log verbosity threshold")
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: profuzz [-verbose N] <fuzz|triage> [flags]")
		os.Exit(1)
	}

	sub := flag.Arg(0)
	args := flag.Args()[1:]
	// A -verbose given before the subcommand is forwarded to it, so the
	// subcommand sees it as explicitly set.
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "verbose" {
			args = append([]string{"-verbose=" + f.Value.String()}, args...)
		}
	})

	var err error
	switch sub {
	case "fuzz":
		err = runFuzz(args, verbose)
	case "triage":
		err = runTriage(args, verbose)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", sub)
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%v", err)
	}
}

func runFuzz(args []string, verbose *int) error {
	fs := flag.NewFlagSet("fuzz", flag.ExitOnError)
	inputDir := fs.String("input", "", "input corpus directory (required)")
	outputDir := fs.String("output", "", "output directory (required)")
	hideUI := fs.Bool("hide-ui", false, "suppress the running-stats log line")
	autoResume := fs.Bool("auto-resume", false, "resume into an existing output directory")
	configPath := fs.String("config", "", "optional YAML config file")
	addr := fs.String("addr", "127.0.0.1:4444", "target TCP address")
	seedHex := fs.String("seed", "", "32-byte hex mutator seed (default: all zero)")
	resetCmd := fs.String("reset-cmd", "", "command line to run on a failed health check (default: no-op)")
	fs.IntVar(verbose, "verbose", *verbose, "log verbosity threshold")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *inputDir == "" || *outputDir == "" {
		return fmt.Errorf("fuzz: -input and -output are required")
	}

	seed, err := parseSeed(*seedHex)
	if err != nil {
		return err
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		return err
	}
	cfg.InputDir = *inputDir
	cfg.OutputDir = *outputDir
	cfg.HideUI = *hideUI
	cfg.AutoResume = *autoResume
	log.SetVerbose(effectiveVerbose(fs, *verbose, cfg.Verbose))

	store, err := output.Open(cfg.OutputDir, cfg.AutoResume)
	if err != nil {
		return err
	}

	transport := tcp.NewTransport(tcp.DefaultConfig(*addr))
	health := tcp.NewHealthCheck(*addr, 2*time.Second)
	reset := resetHandlerFromFlag(*resetCmd)
	st := stats.New()

	engine := fuzzer.New(cfg.EngineConfig(), fuzzer.Deps{
		Transport:    transport,
		HealthCheck:  health,
		ResetHandler: reset,
		Corpus:       blob.Corpus{},
		Mutator:      mutator.New(seed),
		Stats:        st,
		Store:        store,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	var g errgroup.Group
	g.Go(func() error {
		select {
		case <-sigCh:
			st.SetRunning(false)
			cancel()
		case <-ctx.Done():
		}
		return nil
	})
	if !cfg.HideUI {
		g.Go(func() error {
			logRunningStats(ctx, st)
			return nil
		})
	}
	g.Go(func() error {
		defer cancel()
		return engine.Run(ctx, cfg.InputDir)
	})

	return g.Wait()
}

func runTriage(args []string, verbose *int) error {
	fs := flag.NewFlagSet("triage", flag.ExitOnError)
	outputDir := fs.String("output", "", "output directory (required)")
	addr := fs.String("addr", "127.0.0.1:4444", "target TCP address")
	resetCmd := fs.String("reset-cmd", "", "command line to run on a failed health check (default: no-op)")
	fs.IntVar(verbose, "verbose", *verbose, "log verbosity threshold")
	if err := fs.Parse(args); err != nil {
		return err
	}
	log.SetVerbose(*verbose)

	if *outputDir == "" {
		return fmt.Errorf("triage: -output is required")
	}

	store, err := output.Open(*outputDir, true)
	if err != nil {
		return err
	}

	transport := tcp.NewTransport(tcp.DefaultConfig(*addr))
	health := tcp.NewHealthCheck(*addr, 2*time.Second)
	reset := resetHandlerFromFlag(*resetCmd)

	tri := triage.New(triage.DefaultConfig(), triage.Deps{
		Transport:    transport,
		HealthCheck:  health,
		ResetHandler: reset,
		Corpus:       blob.Corpus{},
		Store:        store,
	})

	results, err := tri.RunAll(context.Background())
	if err != nil {
		return err
	}
	for _, r := range results {
		log.Logf(0, "reproducer stored at %s", r.Path)
	}
	return nil
}

// effectiveVerbose prefers an explicitly passed -verbose flag over the
// config file's default, since an operator typing the flag on the command
// line means it now, not "unless set elsewhere."
func effectiveVerbose(fs *flag.FlagSet, flagValue, configValue int) int {
	explicit := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "verbose" {
			explicit = true
		}
	})
	if explicit {
		return flagValue
	}
	return configValue
}

// resetHandlerFromFlag builds the reset handler for a -reset-cmd value: a
// space-separated command line run to completion on a failed health check,
// or DummyResetHandler when empty (the target is expected to self-recover).
func resetHandlerFromFlag(cmdline string) traits.ResetHandler {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return tcp.DummyResetHandler{}
	}
	return tcp.ExecResetHandler{Name: fields[0], Args: fields[1:]}
}

func parseSeed(hexSeed string) (mutator.Seed, error) {
	if hexSeed == "" {
		return mutator.ZeroSeed, nil
	}
	raw, err := hex.DecodeString(hexSeed)
	if err != nil {
		return mutator.Seed{}, fmt.Errorf("fuzz: -seed must be hex: %w", err)
	}
	if len(raw) != len(mutator.Seed{}) {
		return mutator.Seed{}, fmt.Errorf("fuzz: -seed must decode to %d bytes, got %d", len(mutator.Seed{}), len(raw))
	}
	var seed mutator.Seed
	copy(seed[:], raw)
	return seed, nil
}

func logRunningStats(ctx context.Context, st *stats.Stats) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := st.Snapshot()
			log.Logf(0, "execs=%d execs/s=%d unique_responses=%d crashes=%d cycles=%d",
				snap.Executions, snap.ExecsPerSecond, snap.TotalUniqueResponses, snap.TotalCrashes, snap.CyclesDone)
		}
	}
}
