package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kiku/pkg/model"
	"github.com/urfave/cli/v3"
)

func showCommand() *cli.Command {
	var (
		cfg       config
		sessionID model.SessionID
		messages  bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "session-id",
			Aliases:     []string{"id"},
			Usage:       "Session ID to show",
			Sources:     cli.EnvVars("KIKU_SESSION_ID"),
			Destination: (*string)(&sessionID),
			Required:    true,
		},
		&cli.BoolFlag{
			Name:        "messages",
			Aliases:     []string{"m"},
			Usage:       "Include the full conversation log",
			Destination: &messages,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "show",
		Usage: "Show the state of an interview session",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setup(ctx)

			pipeline, err := cfg.newPipeline(ctx)
			if err != nil {
				return err
			}

			state, err := pipeline.State(ctx, sessionID)
			if err != nil {
				return goerr.Wrap(err, "failed to load session")
			}

			w := c.Root().Writer
			fmt.Fprintf(w, "Session: %s\n", state.Session.ID)
			fmt.Fprintf(w, "Phase:   %s\n", state.Session.Phase)
			fmt.Fprintf(w, "Created: %s\n", state.Session.CreatedAt.Format("2006-01-02 15:04:05"))
			if state.Anchor != nil {
				fmt.Fprintf(w, "Intent:  %s\n", state.Anchor.OriginalMessage)
			}
			if state.Plan != nil {
				fmt.Fprintf(w, "Purpose: %s\n", state.Plan.Purpose)
				fmt.Fprintf(w, "Completeness: %d\n", state.Plan.Completeness)
			}

			if len(state.Topics) > 0 {
				fmt.Fprintf(w, "\nTopics:\n")
				for _, t := range state.Topics {
					fmt.Fprintf(w, "  %-12s %-8s %s\n", t.Key, t.Status, t.Text)
				}
			}

			if len(state.Insights) > 0 {
				fmt.Fprintf(w, "\nInsights:\n")
				for _, ins := range state.Insights {
					fmt.Fprintf(w, "  [%s] %s (strength %d, weight %d)\n",
						ins.Layer, ins.Label, ins.Strength, ins.Weight)
				}
			}

			if len(state.Ranked) > 0 {
				printRanked(w, state.Ranked)
			}

			if messages {
				fmt.Fprintf(w, "\nConversation:\n")
				for _, m := range state.Messages {
					fmt.Fprintf(w, "[%d %s] %s\n", m.Turn, m.Role, m.Content)
				}
			}

			if state.Report != nil {
				fmt.Fprintf(w, "\n%s\n", state.Report.Markdown)
			}
			return nil
		},
	}
}
