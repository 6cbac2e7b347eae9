package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func listCommand() *cli.Command {
	var (
		cfg    config
		offset int64
		limit  int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "offset",
			Usage:       "Offset for pagination",
			Value:       0,
			Sources:     cli.EnvVars("KIKU_LIST_OFFSET"),
			Destination: &offset,
		},
		&cli.IntFlag{
			Name:        "limit",
			Usage:       "Maximum number of sessions to list",
			Value:       100,
			Sources:     cli.EnvVars("KIKU_LIST_LIMIT"),
			Destination: &limit,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "list",
		Usage: "List interview sessions",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setup(ctx)

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}

			sessions, err := repo.ListSessions(ctx, int(offset), int(limit))
			if err != nil {
				return goerr.Wrap(err, "failed to list sessions")
			}

			for _, s := range sessions {
				intent := s.Intent
				if len(intent) > 60 {
					intent = intent[:60] + "..."
				}
				fmt.Fprintf(c.Root().Writer, "%s  %-12s  %s  %s\n",
					s.ID, s.Phase, s.CreatedAt.Format("2006-01-02 15:04"), intent)
			}

			fmt.Fprintf(c.Root().Writer, "\nTotal: %d sessions\n", len(sessions))
			return nil
		},
	}
}
