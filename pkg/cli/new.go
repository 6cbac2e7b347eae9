package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func newCommand() *cli.Command {
	var (
		cfg     config
		message string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "message",
			Aliases:     []string{"m"},
			Usage:       "Opening request to start the interview with",
			Sources:     cli.EnvVars("KIKU_MESSAGE"),
			Destination: &message,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "new",
		Usage: "Start a new interview session",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setup(ctx)

			pipeline, err := cfg.newPipeline(ctx)
			if err != nil {
				return err
			}

			session, err := pipeline.CreateSession(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to create session")
			}

			fmt.Fprintf(c.Root().Writer, "Session created: %s\n", session.ID)

			if message != "" {
				result, err := pipeline.HandleTurn(ctx, session.ID, message)
				if err != nil {
					return goerr.Wrap(err, "failed to handle opening message")
				}
				fmt.Fprintf(c.Root().Writer, "\n%s\n", result.Question)
			}

			fmt.Fprintf(c.Root().Writer, "\nContinue with: kiku chat --session-id %s\n", session.ID)
			return nil
		},
	}
}
