package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/aideepspeak/internal/aiconnectors"
)

// ProvidersCommand returns the providers command
func ProvidersCommand() *cli.Command {
	return &cli.Command{
		Name:  "providers",
		Usage: "List supported model providers and their configured credentials",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "check",
				Usage: "Validate configured credentials against the provider APIs",
			},
		},
		Action: runProviders,
	}
}

func runProviders(c *cli.Context) error {
	check := c.Bool("check")

	fmt.Println("=== Model Providers ===")

	missing := 0
	for _, provider := range aiconnectors.KnownProviders() {
		fmt.Printf("\n%s (default model: %s)\n", provider, aiconnectors.DefaultModel(provider))

		envName := aiconnectors.APIKeyEnvName(provider)
		if envName == "" {
			baseURL := aiconnectors.BaseURLFromEnv(provider)
			if baseURL == "" {
				baseURL = "http://localhost:11434"
			}
			fmt.Printf("   keyless, server: %s\n", baseURL)
		} else if key := aiconnectors.APIKeyFromEnv(provider); key == "" {
			missing++
			fmt.Printf("   ❌ %s is not set\n", envName)
		} else {
			fmt.Printf("   ✓ %s = %s\n", envName, maskSecret(key))
		}

		if check {
			printProviderCheck(c, provider)
		}
	}

	if missing > 0 {
		fmt.Printf("\n%d providers have no credentials; characters assigned to them will fail\n", missing)
	}
	return nil
}

// printProviderCheck probes the provider with the credential from the
// environment. Providers without a credential are skipped, except Ollama
// whose check is reaching the local server.
func printProviderCheck(c *cli.Context, provider aiconnectors.Provider) {
	key := aiconnectors.APIKeyFromEnv(provider)
	if key == "" && provider != aiconnectors.ProviderOllama {
		return
	}

	valid, err := aiconnectors.ValidateAPIKey(c.Context, provider, key, aiconnectors.BaseURLFromEnv(provider))
	switch {
	case err != nil:
		fmt.Printf("   ⚠ check inconclusive: %v\n", err)
	case valid:
		fmt.Printf("   ✓ credential accepted\n")
	default:
		fmt.Printf("   ❌ credential rejected\n")
	}
}

// maskSecret masks a credential for display, showing only the first and last
// two characters.
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}
