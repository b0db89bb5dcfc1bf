package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/aideepspeak/internal/respcache"
)

// CacheCommand returns the cache command
func CacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect and maintain the response cache",
		Subcommands: []*cli.Command{
			{
				Name:   "stats",
				Usage:  "Show the cache location and entry count",
				Action: runCacheStats,
			},
			{
				Name:   "prune",
				Usage:  "Remove expired entries",
				Action: runCachePrune,
			},
			{
				Name:   "clear",
				Usage:  "Drop every cached response",
				Action: runCacheClear,
			},
		},
	}
}

// openCacheForMaintenance opens the cache at its configured path even when
// caching is switched off, so a disabled cache can still be inspected and
// cleaned up.
func openCacheForMaintenance(c *cli.Context) (*respcache.Store, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	return respcache.Open(respcache.Options{
		Path:  cfg.Cache.Path,
		Seed:  cfg.Cache.Seed,
		TTL:   cfg.CacheTTL(),
		Debug: cfg.General.Debug,
	}), nil
}

func runCacheStats(c *cli.Context) error {
	store, err := openCacheForMaintenance(c)
	if err != nil {
		return err
	}

	stats := store.Stats()
	fmt.Printf("Path:    %s\n", store.Path())
	fmt.Printf("Entries: %d\n", stats.Entries)
	fmt.Printf("Seed:    %d\n", store.Seed())
	fmt.Printf("TTL:     %s\n", store.TTL())
	return nil
}

func runCachePrune(c *cli.Context) error {
	store, err := openCacheForMaintenance(c)
	if err != nil {
		return err
	}

	removed := store.Prune(time.Now())
	fmt.Printf("Removed %d expired entries, %d remain\n", removed, store.Stats().Entries)
	return nil
}

func runCacheClear(c *cli.Context) error {
	store, err := openCacheForMaintenance(c)
	if err != nil {
		return err
	}

	entries := store.Stats().Entries
	if err := store.Clear(); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}

	fmt.Printf("Dropped %d cached responses\n", entries)
	return nil
}
