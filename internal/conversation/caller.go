package conversation

import (
	"context"

	"github.com/aideepspeak/internal/aiconnectors"
	"github.com/aideepspeak/internal/llm"
	"github.com/aideepspeak/internal/logging"
	"github.com/aideepspeak/pkg/models"
)

// LiveCallerFactory builds resilient callers backed by the real provider
// connectors. Each character gets its own connector so its model parameters
// apply to every call it makes.
func LiveCallerFactory(config llm.CallerConfig, logger *logging.MeetingLogger) CallerFactory {
	return func(ctx context.Context, provider string, params models.ModelParams) (ModelCaller, error) {
		parsed, err := aiconnectors.ParseProvider(provider)
		if err != nil {
			return nil, err
		}

		connector, err := aiconnectors.NewConnector(ctx, aiconnectors.ConnectorOptions{
			Provider: parsed,
			Params:   params,
		})
		if err != nil {
			return nil, err
		}

		return llm.NewResilientCaller(connector, config, logger), nil
	}
}
