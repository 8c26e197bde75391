package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pario-ai/stagegate/pkg/cache/sqlite"
	"github.com/pario-ai/stagegate/pkg/engine"
	"github.com/pario-ai/stagegate/pkg/models"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the response cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCache(func(rt *runtime, c *sqlite.Cache) error {
				stats, err := c.Stats(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "Exact entries:\t%s\n", humanize.Comma(stats.ExactEntries))
				fmt.Fprintf(w, "Semantic entries:\t%s\n", humanize.Comma(stats.SemanticEntries))
				fmt.Fprintf(w, "Total accesses:\t%s\n", humanize.Comma(stats.TotalAccessCount))
				fmt.Fprintf(w, "Avg accesses/entry:\t%.2f\n", stats.AvgAccessesPerEntry)
				fmt.Fprintf(w, "TTL:\t%s\n", c.TTL())
				fmt.Fprintf(w, "Similarity threshold:\t%.2f\n", c.Threshold())
				return w.Flush()
			})
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCache(func(rt *runtime, _ *sqlite.Cache) error {
				mode := models.CleanupAll
				if expiredOnly {
					mode = models.CleanupExpired
				}
				res, err := rt.engine.Cleanup(cmd.Context(), mode)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries (%d exact, %d semantic).\n",
					res.Total(), res.Exact, res.Semantic)
				return nil
			})
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")

	var peek bool
	getCmd := &cobra.Command{
		Use:   "get KEY",
		Short: "Print the response cached under KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCache(func(rt *runtime, c *sqlite.Cache) error {
				if peek {
					e, ok, err := c.Peek(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("no entry for %q", args[0])
					}
					state := "fresh"
					if c.Expired(e.Timestamp) {
						state = "expired"
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "stored %s, %d accesses, %s\n",
						humanize.Time(e.Timestamp), e.AccessCount, state)
					_, err = cmd.OutOrStdout().Write(e.Response)
					return err
				}
				resp, ok, err := c.LookupExact(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("cache miss for %q", args[0])
				}
				_, err = cmd.OutOrStdout().Write(resp)
				return err
			})
		},
	}
	getCmd.Flags().BoolVar(&peek, "peek", false, "show the entry without counting an access, even if expired")

	var putFile string
	putCmd := &cobra.Command{
		Use:   "put KEY",
		Short: "Store a response under KEY (from --file or stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, putFile)
			if err != nil {
				return err
			}
			return a.withCache(func(rt *runtime, _ *sqlite.Cache) error {
				if err := rt.engine.Put(cmd.Context(), args[0], data); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Stored %s under %q.\n", humanize.Bytes(uint64(len(data))), args[0])
				return nil
			})
		},
	}
	putCmd.Flags().StringVar(&putFile, "file", "", "read the response from this file instead of stdin")

	lookupCmd := &cobra.Command{
		Use:   "lookup QUERY",
		Short: "Find a response for QUERY by exact key, then by similarity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCache(func(rt *runtime, _ *sqlite.Cache) error {
				resp, src, ok := rt.engine.Lookup(cmd.Context(), sqlite.HashKey(args[0]), args[0])
				if !ok {
					return fmt.Errorf("cache miss for %q", args[0])
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%s hit\n", src)
				_, err := cmd.OutOrStdout().Write(resp)
				return err
			})
		},
	}

	var rememberFile string
	rememberCmd := &cobra.Command{
		Use:   "remember QUERY [KEY]",
		Short: "Store a response for QUERY in both tiers (from --file or stdin)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, rememberFile)
			if err != nil {
				return err
			}
			key := sqlite.HashKey(args[0])
			if len(args) == 2 {
				key = args[1]
			}
			return a.withCache(func(rt *runtime, _ *sqlite.Cache) error {
				ctx := cmd.Context()
				if err := rt.engine.Put(ctx, key, data); err != nil {
					return err
				}
				if err := rt.engine.Remember(ctx, args[0], key, data); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Remembered %q as %s.\n", args[0], key)
				return nil
			})
		},
	}
	rememberCmd.Flags().StringVar(&rememberFile, "file", "", "read the response from this file instead of stdin")

	cmd.AddCommand(statsCmd, clearCmd, getCmd, putCmd, lookupCmd, rememberCmd)
	return cmd
}

// withCache opens the runtime and fails when caching is disabled.
func (a *app) withCache(fn func(rt *runtime, c *sqlite.Cache) error) error {
	rt, err := a.open()
	if err != nil {
		return err
	}
	defer rt.Close()

	c := rt.engine.Cache()
	if c == nil {
		return engine.ErrCacheDisabled
	}
	return fn(rt, c)
}

// readInput reads path, or stdin when path is empty or "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
