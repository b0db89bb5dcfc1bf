package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/aideepspeak/internal/batch"
	"github.com/aideepspeak/internal/conversation"
	"github.com/aideepspeak/internal/setupgen"
	"github.com/aideepspeak/pkg/models"
)

// RunCommand returns the run command
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run one or more meetings from setup files",
		ArgsUsage: "SETUP_FILE_OR_DIR [SETUP_FILE_OR_DIR ...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "interactive",
				Aliases: []string{"i"},
				Usage:   "Step through the meeting turn by turn",
			},
			&cli.BoolFlag{
				Name:  "no-cache",
				Usage: "Bypass the response cache for this run",
			},
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"w"},
				Usage:   "Concurrent meetings when several setups are given",
			},
		},
		Action: runMeetings,
	}
}

func runMeetings(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing required argument: setup file or directory")
	}

	paths, err := expandSetupPaths(c.Args().Slice())
	if err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	cache := openCache(cfg)
	if c.Bool("no-cache") {
		cache = nil
	}
	service := newMeetingService(cfg, cache)

	if c.Bool("interactive") {
		if len(paths) > 1 {
			return fmt.Errorf("interactive mode runs a single meeting, got %d setups", len(paths))
		}
		return runInteractiveMeeting(c, service, paths[0])
	}

	if len(paths) == 1 {
		return runSingleMeeting(c, service, paths[0])
	}
	return runMeetingBatch(c, service, paths)
}

// expandSetupPaths replaces directory arguments with the JSON setup files
// inside them.
func expandSetupPaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", arg, err)
		}

		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}

		matches, err := filepath.Glob(filepath.Join(arg, "*.json"))
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no setup files in %s", arg)
		}
		paths = append(paths, matches...)
	}
	return paths, nil
}

func runSingleMeeting(c *cli.Context, service *meetingService, path string) error {
	setup, err := setupgen.Load(path)
	if err != nil {
		return err
	}

	fmt.Printf("Running meeting %q with %d characters\n", setup.Name, len(setup.Characters))

	doc, err := service.RunMeeting(c.Context, setup)
	if err != nil {
		return fmt.Errorf("meeting failed: %w", err)
	}

	printTranscript(doc)
	return nil
}

// runInteractiveMeeting drives the run one Step at a time, pausing for the
// operator between turns.
func runInteractiveMeeting(c *cli.Context, service *meetingService, path string) error {
	setup, err := setupgen.Load(path)
	if err != nil {
		return err
	}

	deps, cleanup := service.meetingDeps(setup)
	defer cleanup()

	run, err := conversation.NewRun(c.Context, setup, deps)
	if err != nil {
		return err
	}

	fmt.Printf("Running meeting %q interactively. Press Enter for the next turn, q to stop.\n", setup.Name)

	reader := bufio.NewReader(os.Stdin)
	for {
		msg, live, err := run.Step(c.Context)
		if err != nil {
			var deadlock *conversation.SchedulingDeadlockError
			if errors.As(err, &deadlock) {
				break
			}
			return fmt.Errorf("meeting failed: %w", err)
		}
		if !live {
			break
		}

		printMessage(msg)

		if run.State() == conversation.StateTerminated {
			break
		}

		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil || strings.TrimSpace(line) == "q" {
			break
		}
	}

	doc := run.Transcript()
	if doc.Summary.TerminationReason == "" {
		fmt.Printf("\nStopped early after %d turns\n", len(doc.Messages))
		return nil
	}
	printSummary(doc.Summary)
	return nil
}

func runMeetingBatch(c *cli.Context, service *meetingService, paths []string) error {
	poolConfig := batch.DefaultConfig()
	if workers := c.Int("workers"); workers > 0 {
		poolConfig.MaxWorkers = workers
	} else if service.cfg.Batch.MaxWorkers > 0 {
		poolConfig.MaxWorkers = service.cfg.Batch.MaxWorkers
	}

	runner := batch.ConfigureRunner(poolConfig)

	var cleanups []func()
	defer func() {
		for _, cleanup := range cleanups {
			cleanup()
		}
	}()

	for _, path := range paths {
		setup, err := setupgen.Load(path)
		if err != nil {
			return err
		}

		deps, cleanup := service.meetingDeps(setup)
		cleanups = append(cleanups, cleanup)
		runner.Add(path, setup, deps)
	}

	fmt.Printf("Running %d meetings with %d workers\n", runner.Len(), poolConfig.MaxWorkers)

	results := runner.RunAll(c.Context)

	failed := 0
	for _, path := range paths {
		result := results[path]
		if result == nil {
			continue
		}
		if result.Err != nil {
			failed++
			fmt.Printf("  %s: failed: %v\n", path, result.Err)
			continue
		}
		fmt.Printf("  %s: %d turns, %s\n",
			path, result.Transcript.Summary.TotalTurns, result.Transcript.Summary.TerminationReason)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d meetings failed", failed, len(paths))
	}
	return nil
}

func printTranscript(doc models.Transcript) {
	fmt.Println("\n=== Meeting Transcript ===")
	for _, msg := range doc.Messages {
		printMessage(msg)
	}
	printSummary(doc.Summary)
}

func printMessage(msg models.Message) {
	cached := ""
	if msg.CacheHit {
		cached = " (cached)"
	}
	fmt.Printf("\n[%d] %s%s:\n%s\n", msg.TurnIndex, msg.Speaker, cached, msg.Text)
}

func printSummary(summary models.Summary) {
	fmt.Println("\n=== Summary ===")
	fmt.Printf("Turns: %d\n", summary.TotalTurns)
	fmt.Printf("Ended: %s\n", summary.TerminationReason)
	fmt.Printf("Tokens: %d prompt, %d completion, %d total\n",
		summary.TotalUsage.PromptTokens,
		summary.TotalUsage.CompletionTokens,
		summary.TotalUsage.TotalTokens)
}
