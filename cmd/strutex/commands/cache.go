package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Aquilesorei/strutex/pkg/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the configured result cache",
	Long: `Inspect or empty the cache selected by the cache section of the config
file. Only persistent backends (file, sqlite, postgres, redis) keep entries
between runs.`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the number of cached entries",
	Args:  cobra.NoArgs,
	RunE: withCache(func(cmd *cobra.Command, store cache.Cache) error {
		st := store.Stats()
		out := cmd.OutOrStdout()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(out, st)
		}
		fmt.Fprintf(out, "Entries:  %s\n", humanize.Comma(int64(st.Size)))
		fmt.Fprintf(out, "Hits:     %s\n", humanize.Comma(st.Hits))
		fmt.Fprintf(out, "Misses:   %s\n", humanize.Comma(st.Misses))
		fmt.Fprintf(out, "Hit rate: %.1f%%\n", st.HitRate()*100)
		return nil
	}),
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached entry",
	Args:  cobra.NoArgs,
	RunE: withCache(func(cmd *cobra.Command, store cache.Cache) error {
		n, err := store.Clear(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s entries\n", humanize.Comma(int64(n)))
		return nil
	}),
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired entries",
	Args:  cobra.NoArgs,
	RunE: withCache(func(cmd *cobra.Command, store cache.Cache) error {
		cleaner, ok := store.(cache.Cleaner)
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "This cache backend expires entries on its own")
			return nil
		}
		n, err := cleaner.CleanupExpired(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s expired entries\n", humanize.Comma(int64(n)))
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd, cacheCleanupCmd)
	cacheCmd.PersistentFlags().String("cache", "", "override the configured cache backend")
	cacheStatsCmd.Flags().Bool("json", false, "output as JSON")
}

// withCache opens the configured cache for the duration of fn.
func withCache(fn func(*cobra.Command, cache.Cache) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd, map[string]string{"cache.backend": "cache"})
		if err != nil {
			return err
		}
		r, err := newRegistry()
		if err != nil {
			return err
		}
		store, err := buildCache(r, cfg.Manifest())
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		return fn(cmd, store)
	}
}
