package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/internal/cacheinfra"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newKeysCmd(a *app) *cobra.Command {
	var pattern string

	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List cached keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			for _, key := range c.Manager().Keys(ctx) {
				if pattern != "" && !strings.Contains(key, pattern) {
					continue
				}
				fmt.Fprintln(a.stdout, key)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&pattern, "pattern", "p", "", "only list keys containing this text")
	return cmd
}

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <key>",
		Short: "Show the stored time, TTL and value of a cached key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			key := args[0]

			c, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			// read the durable record directly so expired entries are shown, not evicted
			blob, found, err := c.Durable().Get(ctx, c.Config().KeyPrefix+key)
			if err != nil {
				return fmt.Errorf("read %q: %w", key, err)
			}
			if !found {
				return fmt.Errorf("key %q not found", key)
			}

			entry, err := cacheinfra.DecodeEntry(key, blob)
			if err != nil {
				return fmt.Errorf("key %q: %w", key, err)
			}

			value, err := cache.As[any](entry.Value)
			if err != nil {
				return fmt.Errorf("key %q: %w", key, err)
			}
			pretty, err := json.MarshalIndent(value, "", "  ")
			if err != nil {
				pretty = []byte(fmt.Sprintf("%v", value))
			}

			now := a.clock.Now()
			w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "key\t%s\n", entry.Key)
			fmt.Fprintf(w, "stored at\t%s\n", entry.StoredAt.UTC().Format(time.RFC3339))
			fmt.Fprintf(w, "ttl\t%s\n", entry.TTL)
			fmt.Fprintf(w, "expires at\t%s\n", entry.ExpiresAt().UTC().Format(time.RFC3339))
			fmt.Fprintf(w, "age\t%s\n", entry.Age(now).Truncate(time.Second))
			fmt.Fprintf(w, "state\t%s\n", entry.Freshness(now, c.Config().DefaultStaleTime))
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "value:\n%s\n", pretty)
			return nil
		},
	}
}

func newInvalidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <pattern>",
		Short: "Remove every key containing pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			n := c.Manager().InvalidatePattern(ctx, args[0])
			a.logger.Info("invalidated cache entries", zap.String("pattern", args[0]), zap.Int("removed", n))
			fmt.Fprintf(a.stdout, "removed %d entries\n", n)
			return nil
		},
	}
}

func newClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			n := len(c.Manager().Keys(ctx))
			c.Manager().Clear(ctx)
			fmt.Fprintf(a.stdout, "removed %d entries\n", n)
			return nil
		},
	}
}
