package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/aideepspeak/internal/aiconnectors"
	"github.com/aideepspeak/internal/config"
	"github.com/aideepspeak/internal/conversation"
	"github.com/aideepspeak/internal/llm"
	"github.com/aideepspeak/internal/logging"
	"github.com/aideepspeak/internal/respcache"
	"github.com/aideepspeak/internal/transcript"
	"github.com/aideepspeak/pkg/models"
)

// loadConfig loads and validates the configuration named by the app-level
// --config flag. A debug setting in the file raises the global log level.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.General.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	return cfg, nil
}

// openCache opens the configured response cache, or returns nil when caching
// is disabled. Every consumer treats a nil store as a pass-through.
func openCache(cfg *config.Config) *respcache.Store {
	if !cfg.Cache.Enabled {
		return nil
	}

	return respcache.Open(respcache.Options{
		Path:  cfg.Cache.Path,
		Seed:  cfg.Cache.Seed,
		TTL:   cfg.CacheTTL(),
		Debug: cfg.General.Debug,
	})
}

// callerConfig maps the configured resiliency knobs onto the model caller
func callerConfig(cfg *config.Config) llm.CallerConfig {
	cc := llm.DefaultCallerConfig()
	cc.CallTimeout = cfg.CallTimeout()
	cc.RequestsPerSecond = cfg.Model.RequestsPerSecond
	cc.Burst = cfg.Model.Burst
	cc.Retry.MaxRetries = cfg.Model.MaxRetries
	return cc
}

// newCallerFactory returns the factory that turns a character's assigned
// provider into a live, retry-wrapped connector. Credentials and endpoint
// overrides come from the environment.
func newCallerFactory(cfg *config.Config, logger *logging.MeetingLogger) conversation.CallerFactory {
	cc := callerConfig(cfg)

	return func(ctx context.Context, provider string, params models.ModelParams) (conversation.ModelCaller, error) {
		p, err := aiconnectors.ParseProvider(provider)
		if err != nil {
			return nil, err
		}

		connector, err := aiconnectors.NewConnector(ctx, aiconnectors.ConnectorOptions{
			Provider: p,
			Params:   params,
		})
		if err != nil {
			return nil, err
		}

		return llm.NewResilientCaller(connector, cc, logger), nil
	}
}

// generationCaller builds the caller used for setup generation. An empty
// providerName falls back to the configured generation provider.
func generationCaller(ctx context.Context, cfg *config.Config, providerName string) (*llm.ResilientCaller, error) {
	if providerName == "" {
		providerName = cfg.Model.GenerationProvider
	}

	provider, err := aiconnectors.ParseProvider(providerName)
	if err != nil {
		return nil, err
	}

	connector, err := aiconnectors.NewConnector(ctx, aiconnectors.ConnectorOptions{Provider: provider})
	if err != nil {
		return nil, fmt.Errorf("failed to create a %s connector: %w", provider, err)
	}

	return llm.NewResilientCaller(connector, callerConfig(cfg), nil), nil
}

// meetingService executes meetings with the process-wide response cache and
// the configured connector stack. It serves the run command directly and the
// API server and job queue through their MeetingRunner seams.
type meetingService struct {
	cfg   *config.Config
	cache *respcache.Store
}

func newMeetingService(cfg *config.Config, cache *respcache.Store) *meetingService {
	return &meetingService{cfg: cfg, cache: cache}
}

// RunMeeting executes one setup to completion and returns its transcript.
func (s *meetingService) RunMeeting(ctx context.Context, setup models.Setup) (models.Transcript, error) {
	deps, cleanup := s.meetingDeps(setup)
	defer cleanup()

	run, err := conversation.NewRun(ctx, setup, deps)
	if err != nil {
		return models.Transcript{}, err
	}

	return run.RunAll(ctx)
}

// meetingDeps assembles the per-meeting collaborators. Trace logging and
// transcript persistence are best-effort; the meeting still runs when either
// file cannot be created.
func (s *meetingService) meetingDeps(setup models.Setup) (conversation.Deps, func()) {
	dir := setup.Logging.Dir
	if dir == "" {
		dir = s.cfg.General.LogDir
	}

	logger, err := logging.StartMeetingLogging(dir, setup.ConversationID, s.cfg.General.Debug || setup.Logging.Debug)
	if err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("Meeting trace disabled")
		logger = nil
	}

	writer, err := transcript.NewWriter(dir, setup.ConversationID)
	if err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("Transcript persistence disabled")
		writer = nil
	}

	deps := conversation.Deps{
		Cache:     s.cache,
		NewCaller: newCallerFactory(s.cfg, logger),
		Logger:    logger,
		Writer:    writer,
	}

	return deps, func() { logger.Close() }
}
