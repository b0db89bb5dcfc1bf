package cmd

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/aideepspeak/internal/api"
	"github.com/aideepspeak/internal/api/auth"
	"github.com/aideepspeak/internal/archive"
	"github.com/aideepspeak/internal/jobqueue"
	"github.com/aideepspeak/internal/setupgen"
)

// ServeCommand returns the serve command
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the aideepspeak API server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Usage:   "Listen address (default: server.addr)",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	addr := cfg.Server.Addr
	if override := c.String("addr"); override != "" {
		addr = override
	}

	service := newMeetingService(cfg, openCache(cfg))

	opts := api.Options{
		Addr:   addr,
		Runner: service,
	}

	// The generator needs a working connector for the generation provider.
	// Without one the endpoint answers 503 and the rest of the API stays up.
	if caller, err := generationCaller(c.Context, cfg, ""); err != nil {
		log.Warn().Err(err).Msg("Setup generation disabled")
	} else {
		opts.Generator = setupgen.New(caller, nil, setupgen.Options{OutDir: cfg.General.SetupDir})
	}

	if cfg.Server.AuthSecret != "" && cfg.Server.APIKeyHash != "" {
		opts.Tokens = auth.NewTokenService(cfg.Server.AuthSecret, cfg.Server.APIKeyHash)
	}

	databaseURL, err := archive.ResolveDatabaseURL(cfg.Server.DatabaseURL)
	if err != nil {
		fmt.Println("No archive database configured; meetings will not be persisted")
	} else {
		store, err := archive.Open(databaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to the archive database: %w", err)
		}
		defer store.Close()

		if err := store.EnsureSchema(c.Context); err != nil {
			return fmt.Errorf("failed to prepare the archive schema: %w", err)
		}
		opts.Archive = store

		queueConfig := jobqueue.DefaultQueueConfig()
		queueConfig.MaxWorkers = cfg.Batch.MaxWorkers

		queue, err := jobqueue.NewJobQueue(databaseURL, service, store, queueConfig)
		if err != nil {
			return fmt.Errorf("failed to create the job queue: %w", err)
		}
		defer queue.Close()

		if err := queue.Start(c.Context); err != nil {
			return fmt.Errorf("failed to start the job queue: %w", err)
		}
		opts.Queue = queue
	}

	fmt.Printf("Starting aideepspeak API server on %s\n", addr)

	server := api.NewServer(opts)
	return server.Start()
}
