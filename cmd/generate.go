package cmd

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/aideepspeak/internal/setupgen"
)

// GenerateCommand returns the generate command
func GenerateCommand() *cli.Command {
	return &cli.Command{
		Name:      "generate",
		Usage:     "Generate a meeting setup from a topic",
		ArgsUsage: "TOPIC",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Directory for the setup file (default: general.setup_dir)",
			},
			&cli.StringFlag{
				Name:    "provider",
				Aliases: []string{"p"},
				Usage:   "Override the generation provider",
			},
			&cli.BoolFlag{
				Name:  "run",
				Usage: "Run the meeting right after generating it",
			},
		},
		Action: runGenerate,
	}
}

func runGenerate(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing required argument: topic")
	}
	topic := strings.Join(c.Args().Slice(), " ")

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	caller, err := generationCaller(c.Context, cfg, c.String("provider"))
	if err != nil {
		return err
	}

	outDir := cfg.General.SetupDir
	if override := c.String("out"); override != "" {
		outDir = override
	}

	gen := setupgen.New(caller, nil, setupgen.Options{OutDir: outDir})

	fmt.Printf("Generating setup for topic: %s\n", topic)

	setup, err := gen.Generate(c.Context, topic)
	if err != nil {
		return fmt.Errorf("failed to generate setup: %w", err)
	}

	path, err := gen.Save(setup)
	if err != nil {
		return fmt.Errorf("failed to save setup: %w", err)
	}

	fmt.Printf("Saved setup with %d characters to %s\n", len(setup.Characters), path)

	if !c.Bool("run") {
		return nil
	}

	service := newMeetingService(cfg, openCache(cfg))

	fmt.Printf("Running meeting %q\n", setup.Name)

	doc, err := service.RunMeeting(c.Context, setup)
	if err != nil {
		return fmt.Errorf("meeting failed: %w", err)
	}

	printTranscript(doc)
	return nil
}
