package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kiku/pkg/model"
	"github.com/m-mizutani/kiku/pkg/usecase/interview"
	"github.com/urfave/cli/v3"
)

func chatCommand() *cli.Command {
	var (
		cfg       config
		sessionID model.SessionID
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "session-id",
			Aliases:     []string{"id"},
			Usage:       "Session ID to continue",
			Sources:     cli.EnvVars("KIKU_SESSION_ID"),
			Destination: (*string)(&sessionID),
			Required:    true,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Continue an interview session interactively",
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

			switch state.Session.Phase {
			case model.PhaseWelcome, model.PhaseConversation:
				// continue below
			case model.PhaseWeighting:
				// Reopen the conversation; weights are set via the report
				// command instead when the user is done talking.
				if _, err := pipeline.ResumeConversation(ctx, sessionID); err != nil {
					return goerr.Wrap(err, "failed to reopen conversation")
				}
				fmt.Fprintf(c.Root().Writer, "Conversation reopened.\n")
			default:
				return goerr.New("session is closed",
					goerr.Value("session_id", sessionID),
					goerr.Value("phase", state.Session.Phase))
			}

			if last := lastAssistantMessage(state.Messages); last != "" {
				fmt.Fprintf(c.Root().Writer, "%s\n", last)
			}

			rl, err := readline.New("> ")
			if err != nil {
				return goerr.Wrap(err, "failed to initialize input")
			}
			defer rl.Close()

			fmt.Fprintf(c.Root().Writer, "Type 'exit' to quit.\n")

			weighting := false
			for {
				line, err := rl.Readline()
				if err != nil {
					if errors.Is(err, readline.ErrInterrupt) {
						continue
					}
					if errors.Is(err, io.EOF) {
						break
					}
					return goerr.Wrap(err, "failed to read input")
				}
				if line == "exit" {
					break
				}
				if line == "" {
					continue
				}

				if weighting {
					if _, err := pipeline.ResumeConversation(ctx, sessionID); err != nil {
						return goerr.Wrap(err, "failed to reopen conversation")
					}
					weighting = false
					fmt.Fprintf(c.Root().Writer, "Conversation reopened.\n")
				}

				result, err := runTurn(ctx, pipeline, sessionID, line)
				if err != nil {
					if errors.Is(err, context.Canceled) {
						fmt.Fprintf(c.Root().Writer, "(interrupted, nothing was answered)\n")
						continue
					}
					return goerr.Wrap(err, "failed to handle turn")
				}

				for _, conflict := range result.Conflicts {
					fmt.Fprintf(c.Root().Writer, "Note: this seems to conflict with something earlier: %s\n", conflict.Note)
				}

				if result.Phase == model.PhaseWeighting {
					weighting = true
					printRanked(c.Root().Writer, result.Ranked)
					fmt.Fprintf(c.Root().Writer, "\nAdjust weights and compose the report with: kiku report --session-id %s\n", sessionID)
					fmt.Fprintf(c.Root().Writer, "Or keep talking to reopen the conversation.\n")
					continue
				}

				fmt.Fprintf(c.Root().Writer, "%s\n", result.Question)
			}

			fmt.Fprintf(c.Root().Writer, "\nSession saved: %s\n", sessionID)
			return nil
		},
	}
}

// runTurn executes one turn under a spinner. Ctrl-C cancels the in-flight
// turn without ending the session.
func runTurn(ctx context.Context, pipeline *interview.Pipeline, sessionID model.SessionID, message string) (*interview.TurnResult, error) {
	tctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	sp.Suffix = " thinking..."
	sp.Start()
	defer sp.Stop()

	result, err := pipeline.HandleTurn(tctx, sessionID, message)
	if err != nil && tctx.Err() != nil {
		return nil, context.Canceled
	}
	return result, err
}

func lastAssistantMessage(msgs []*model.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleAssistant {
			return msgs[i].Content
		}
	}
	return ""
}

func printRanked(w io.Writer, ranked []interview.RankedInsight) {
	fmt.Fprintf(w, "\nWhat I heard, ranked by importance:\n")
	for i, ri := range ranked {
		marker := " "
		if ri.Tag == interview.TagPrimary {
			marker = "*"
		}
		note := ""
		if ri.BlindSpot {
			note = " (not in your original request)"
		}
		fmt.Fprintf(w, "%s %d. %s [%s, weight %d]%s\n",
			marker, i+1, ri.Insight.Label, ri.Insight.Layer, ri.Weight, note)
	}
}
