package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/quailhq/quail/internal/collection"
	"github.com/quailhq/quail/internal/httpexec"
	"github.com/quailhq/quail/internal/runner"
	"github.com/quailhq/quail/internal/sandbox"
	"github.com/quailhq/quail/internal/ui"
	"github.com/quailhq/quail/internal/vars"
)

func consoleCmd() *cobra.Command {
	var (
		collectionPath string
		envName        string
	)

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Interactive sandbox session with the full bru surface",
		Long: `Start an interactive console. Each line is evaluated in a fresh
sandbox session against a shared variable store, so bru.setVar state
persists across lines while script-created handles do not.`,
		Args: cobra.NoArgs,
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
			return runConsole(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&collectionPath, "collection", "f", "", "Path to the collection file")
	cmd.Flags().StringVarP(&envName, "env", "e", "", "Environment to seed variables from")
	return cmd
}

func runConsole(ctx context.Context, cfg *Config) error {
	store := vars.NewStore()
	colName := "console"
	cwd, _ := os.Getwd()

	// Seed the store from the collection when one is present; the console
	// works without one.
	if col, err := collection.Load(cfg.Collection); err == nil {
		colName = col.Name
		cwd = col.Dir
		store.Seed(vars.ScopeCollection, col.Vars)
		if cfg.Environment != "" {
			env, err := col.Environment(cfg.Environment)
			if err != nil {
				return err
			}
			store.Seed(vars.ScopeEnvironment, env.Vars)
			store.Seed(vars.ScopeSecret, env.Secrets)
		}
	}

	provider := runner.NewInteractiveProvider(store, httpexec.NewClient(),
		colName, cfg.Environment, cwd, newLogger())

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "quail> ",
		HistoryFile:       consoleHistoryFile(),
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Println(ui.Header("quail console") + ui.Dim(" (type 'exit' to quit, Ctrl+D to exit)"))

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			return nil
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		evalConsoleLine(ctx, provider, line, cfg.scriptTimeout())
	}
}

// evalConsoleLine runs one line in a throwaway session and prints its
// outcome.
func evalConsoleLine(ctx context.Context, provider sandbox.Provider, line string, timeout time.Duration) {
	sess, err := sandbox.New(provider, sandbox.WithTimeout(timeout))
	if err != nil {
		fmt.Println(ui.Error(err.Error()))
		return
	}
	defer sess.Dispose()

	// A bare expression needs a return to surface its value through the
	// async wrapper; statements run as-is.
	src := line
	if !strings.ContainsAny(line, ";{}") && !strings.HasPrefix(line, "var ") &&
		!strings.HasPrefix(line, "let ") && !strings.HasPrefix(line, "const ") {
		src = "return (" + line + ");"
	}

	res := sess.Evaluate(ctx, src)
	if res.Failed() {
		fmt.Println(ui.Error(res.Err.Message))
		return
	}
	fmt.Println(formatConsoleValue(res.Value))
}

func formatConsoleValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ui.Dim("null")
	case string:
		return val
	default:
		b, err := json.MarshalIndent(val, "", "  ")
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

func consoleHistoryFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "quail", "console_history")
}
