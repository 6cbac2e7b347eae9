package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kiku/pkg/model"
	"github.com/urfave/cli/v3"
)

func reportCommand() *cli.Command {
	var (
		cfg       config
		sessionID model.SessionID
		weights   []string
		keepOpen  bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "session-id",
			Aliases:     []string{"id"},
			Usage:       "Session ID to compose the report for",
			Sources:     cli.EnvVars("KIKU_SESSION_ID"),
			Destination: (*string)(&sessionID),
			Required:    true,
		},
		&cli.StringSliceFlag{
			Name:        "weight",
			Aliases:     []string{"w"},
			Usage:       "Weight override as label=0-100 (repeatable)",
			Destination: &weights,
		},
		&cli.BoolFlag{
			Name:        "keep-open",
			Usage:       "Leave the session in the report phase instead of closing it",
			Destination: &keepOpen,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "report",
		Usage: "Apply insight weights and compose the final report",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setup(ctx)

			overrides, err := parseWeights(weights)
			if err != nil {
				return err
			}

			pipeline, err := cfg.newPipeline(ctx)
			if err != nil {
				return err
			}

			state, err := pipeline.State(ctx, sessionID)
			if err != nil {
				return goerr.Wrap(err, "failed to load session")
			}

			// A session that already has a composed report is just printed.
			if state.Report != nil {
				fmt.Fprintf(c.Root().Writer, "%s\n", state.Report.Markdown)
				return nil
			}

			report, err := pipeline.Finalize(ctx, sessionID, overrides)
			if err != nil {
				return goerr.Wrap(err, "failed to compose report")
			}

			fmt.Fprintf(c.Root().Writer, "%s\n", report.Markdown)

			if !keepOpen {
				if err := pipeline.CompleteSession(ctx, sessionID); err != nil {
					return goerr.Wrap(err, "failed to close session")
				}
				fmt.Fprintf(c.Root().Writer, "\nSession completed: %s\n", sessionID)
			}
			return nil
		},
	}
}

// parseWeights converts repeated label=NN flags into the override map
func parseWeights(args []string) (map[string]int, error) {
	if len(args) == 0 {
		return nil, nil
	}
	overrides := make(map[string]int, len(args))
	for _, arg := range args {
		label, raw, ok := strings.Cut(arg, "=")
		if !ok || label == "" {
			return nil, goerr.New("weight must be label=value", goerr.Value("arg", arg))
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid weight value", goerr.Value("arg", arg))
		}
		if v < 0 || v > 100 {
			return nil, goerr.New("weight must be 0-100", goerr.Value("arg", arg))
		}
		overrides[label] = v
	}
	return overrides, nil
}
