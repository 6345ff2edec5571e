package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/engram/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// Administrative commands operating directly on the memory store.

func storeCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, embeddingFlags(&cfg)...)

	return &cli.Command{
		Name:      "store",
		Usage:     "Persist a note",
		ArgsUsage: "<text>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			text := strings.Join(c.Args().Slice(), " ")
			if text == "" {
				return goerr.New("note text is required")
			}

			store, err := cfg.newStore(ctx)
			if err != nil {
				return err
			}

			note, err := store.Store(ctx, text)
			if err != nil {
				return goerr.Wrap(err, "failed to store note")
			}

			fmt.Fprintf(c.Root().Writer, "Stored note %s\n", note.ID)
			return nil
		},
	}
}

func recallCommand() *cli.Command {
	var (
		cfg   config
		limit int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"l"},
			Usage:       "Maximum number of notes to return",
			Sources:     cli.EnvVars("ENGRAM_RECALL_LIMIT"),
			Destination: &limit,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, embeddingFlags(&cfg)...)

	return &cli.Command{
		Name:      "recall",
		Usage:     "Find notes relevant to a context phrase",
		ArgsUsage: "<query>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			query := strings.Join(c.Args().Slice(), " ")
			if query == "" {
				return goerr.New("query is required")
			}

			store, err := cfg.newStore(ctx)
			if err != nil {
				return err
			}

			results, err := store.Recall(ctx, query, int(limit), nil)
			if err != nil {
				return goerr.Wrap(err, "failed to recall notes")
			}

			if len(results) == 0 {
				fmt.Fprintf(c.Root().Writer, "No relevant notes found\n")
				return nil
			}

			for i, r := range results {
				fmt.Fprintf(c.Root().Writer, "%d. [%.4f] %s\n", i+1, r.Score, r.Note.Text)
				fmt.Fprintf(c.Root().Writer, "   ID: %s  Created: %s\n",
					r.Note.ID, r.Note.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func forgetCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, embeddingFlags(&cfg)...)

	return &cli.Command{
		Name:      "forget",
		Usage:     "Remove a note by ID",
		ArgsUsage: "<note-id>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			id := c.Args().First()
			if id == "" {
				return goerr.New("note ID is required")
			}

			store, err := cfg.newStore(ctx)
			if err != nil {
				return err
			}

			if err := store.Forget(ctx, model.NoteID(id)); err != nil {
				return goerr.Wrap(err, "failed to forget note")
			}

			fmt.Fprintf(c.Root().Writer, "Forgot note %s\n", id)
			return nil
		},
	}
}
