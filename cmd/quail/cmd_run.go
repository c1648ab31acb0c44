package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/quailhq/quail/internal/collection"
	"github.com/quailhq/quail/internal/history"
	"github.com/quailhq/quail/internal/runner"
	"github.com/quailhq/quail/internal/ui"
)

func runCmd() *cobra.Command {
	var (
		collectionPath string
		envName        string
		watch          bool
		noHistory      bool
	)

	cmd := &cobra.Command{
		Use:   "run [request]",
		Short: "Run the collection sequence, or a single named request",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if collectionPath != "" {
				cfg.Collection = collectionPath
			}
			if envName != "" {
				cfg.Environment = envName
			}

			var requestName string
			if len(args) == 1 {
				requestName = args[0]
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if watch {
				return watchLoop(ctx, cfg, requestName, noHistory)
			}

			failed, err := runOnce(ctx, cfg, requestName, noHistory)
			if err != nil {
				return err
			}
			if failed {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&collectionPath, "collection", "f", "", "Path to the collection file")
	cmd.Flags().StringVarP(&envName, "env", "e", "", "Environment to run against")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Re-run when collection files change")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not record the run")
	return cmd
}

// runOnce loads, runs and reports one run. It returns whether any
// request failed.
func runOnce(ctx context.Context, cfg *Config, requestName string, noHistory bool) (bool, error) {
	col, err := collection.Load(cfg.Collection)
	if err != nil {
		return false, err
	}

	r, err := runner.New(col, cfg.Environment,
		runner.WithLogger(newLogger()),
		runner.WithScriptTimeout(cfg.scriptTimeout()))
	if err != nil {
		return false, err
	}

	var res *runner.RunResult
	if requestName != "" {
		res, err = r.RunRequest(ctx, requestName)
	} else {
		res, err = r.Run(ctx)
	}
	if err != nil {
		return false, err
	}

	fmt.Print(ui.RenderRun(res))

	if !noHistory {
		if err := recordRun(ctx, cfg, res); err != nil {
			fmt.Fprintln(os.Stderr, ui.Warning("history: "+err.Error()))
		}
	}

	_, failed := res.Counts()
	return failed > 0, nil
}

func recordRun(ctx context.Context, cfg *Config, res *runner.RunResult) error {
	if err := os.MkdirAll(filepath.Dir(cfg.HistoryPath), 0o755); err != nil {
		return err
	}
	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Record(ctx, res)
}

// watchLoop re-runs the collection whenever its file (or a sibling yaml
// file) changes. Rapid event bursts from editors collapse into one run.
func watchLoop(ctx context.Context, cfg *Config, requestName string, noHistory bool) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	abs, err := filepath.Abs(cfg.Collection)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	runAndReport := func() {
		if _, err := runOnce(ctx, cfg, requestName, noHistory); err != nil {
			fmt.Fprintln(os.Stderr, ui.Error(err.Error()))
		}
		fmt.Println(ui.Dim("watching for changes... (ctrl-c to quit)"))
	}
	runAndReport()

	var debounce *time.Timer
	pending := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if filepath.Ext(event.Name) != ".yaml" && filepath.Ext(event.Name) != ".yml" {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(250*time.Millisecond, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintln(os.Stderr, ui.Warning("watch: "+err.Error()))
		case <-pending:
			runAndReport()
		}
	}
}
