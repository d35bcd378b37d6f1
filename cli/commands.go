package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AllieRays/redis-wellness/aggregation"
	"github.com/AllieRays/redis-wellness/memory"
	"github.com/AllieRays/redis-wellness/runtime"
	"github.com/AllieRays/redis-wellness/version"
)

// withRuntime builds the Runtime, runs fn under a signal-aware context and
// tears the Runtime down afterwards.
func withRuntime(fn func(ctx context.Context, rt *runtime.Runtime) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := runtime.New(ctx, loadConfig())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			rt.Logger.WithError(cerr).Warn("failed to close runtime cleanly")
		}
	}()

	return fn(ctx, rt)
}

// printJSON renders a command result as indented JSON on stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show backend health, per-tier record counts and cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := cmd.Flags().GetString("session")
		return withRuntime(func(ctx context.Context, rt *runtime.Runtime) error {
			out := struct {
				Version interface{} `json:"version"`
				Backend interface{} `json:"backend"`
				Memory  interface{} `json:"memory"`
			}{
				Version: version.Resolve(),
				Backend: rt.Client.HealthCheck(ctx),
				Memory:  rt.Coordinator.MemoryStats(ctx, rt.Config.Memory.DefaultUser, session),
			}
			return printJSON(out)
		})
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the semantic knowledge base with the curated baseline facts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(ctx context.Context, rt *runtime.Runtime) error {
			n, err := rt.Semantic.SeedIfEmpty(ctx)
			if err != nil {
				return err
			}
			if n == 0 {
				fmt.Println("semantic knowledge base already populated, nothing to do")
			} else {
				fmt.Printf("seeded %d facts\n", n)
			}
			return nil
		})
	},
}

var askCmd = &cobra.Command{
	Use:   "ask [query]",
	Short: "Retrieve the context bundle for a query (debugging aid)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := cmd.Flags().GetString("session")
		return withRuntime(func(ctx context.Context, rt *runtime.Runtime) error {
			bundle, err := rt.Coordinator.RetrieveContext(ctx, args[0], memory.RetrieveOptions{
				Session: session,
				User:    rt.Config.Memory.DefaultUser,
			})
			if err != nil {
				return err
			}
			return printJSON(bundle)
		})
	},
}

// importItem is the JSON shape of one aggregation import record.
type importItem struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	BucketLabel string            `json:"bucket_label"`
	Fields      map[string]string `json:"fields"`
}

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Rebuild the aggregation index from a JSON export of workout items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read import file: %w", err)
		}
		var items []importItem
		if err := json.Unmarshal(raw, &items); err != nil {
			return fmt.Errorf("failed to parse import file: %w", err)
		}

		return withRuntime(func(ctx context.Context, rt *runtime.Runtime) error {
			converted := make([]aggregation.Item, len(items))
			for i, item := range items {
				converted[i] = aggregation.Item{
					ID:          item.ID,
					Timestamp:   item.Timestamp,
					BucketLabel: item.BucketLabel,
					Fields:      item.Fields,
				}
			}
			if err := rt.Indexer.Rebuild(ctx, rt.Config.Memory.DefaultUser, converted); err != nil {
				return err
			}
			fmt.Printf("indexed %d items\n", len(converted))
			return nil
		})
	},
}

var clearSessionCmd = &cobra.Command{
	Use:   "clear-session [session]",
	Short: "Remove one session's short-term log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(ctx context.Context, rt *runtime.Runtime) error {
			if err := rt.Coordinator.ClearSession(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("session %s cleared\n", args[0])
			return nil
		})
	},
}

var clearUserCmd = &cobra.Command{
	Use:   "clear-user",
	Short: "Remove the user's short-term, episodic and procedural memory",
	Long: `Removes the configured user's sessions (pass them with --session),
episodic facts and procedural patterns. Shared semantic knowledge is kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, _ := cmd.Flags().GetStringSlice("session")
		return withRuntime(func(ctx context.Context, rt *runtime.Runtime) error {
			user := rt.Config.Memory.DefaultUser
			if err := rt.Coordinator.ClearUser(ctx, user, sessions...); err != nil {
				return err
			}
			fmt.Printf("memory cleared for %s\n", user)
			return nil
		})
	},
}

func init() {
	statsCmd.Flags().String("session", "", "session id to count short-term messages for")
	askCmd.Flags().String("session", "", "session id providing short-term context")
	clearUserCmd.Flags().StringSlice("session", nil, "session ids whose short-term logs to drop")

	RootCmd.AddCommand(statsCmd)
	RootCmd.AddCommand(seedCmd)
	RootCmd.AddCommand(askCmd)
	RootCmd.AddCommand(importCmd)
	RootCmd.AddCommand(clearSessionCmd)
	RootCmd.AddCommand(clearUserCmd)
}
