// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command docqa ingests documents and answers questions about them.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/poiesic/docqa"
	"github.com/poiesic/docqa/config"
	"github.com/urfave/cli/v2"
)

// openFunc opens an Engine for a loaded configuration.
type openFunc func(ctx context.Context, cfg *config.Config) (*docqa.Engine, error)

func openEngine(ctx context.Context, cfg *config.Config) (*docqa.Engine, error) {
	return docqa.Open(ctx, cfg, docqa.WithLogger(slog.Default()))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newApp(os.Stdout, os.Stderr, openEngine).RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

// runner carries what every command needs once the global flags are parsed.
type runner struct {
	out    io.Writer
	errOut io.Writer
	open   openFunc
	cfg    *config.Config
}

func newApp(out, errOut io.Writer, open openFunc) *cli.App {
	r := &runner{out: out, errOut: errOut, open: open}

	return &cli.App{
		Name:      "docqa",
		Usage:     "Ask questions about your documents and get answers grounded in them",
		Reader:    os.Stdin,
		Writer:    out,
		ErrWriter: errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML config file (default ./docqa.yaml, then ~/.config/docqa/config.yaml)",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Path to a .env file to load before reading the config",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "warn",
			},
			&cli.StringFlag{
				Name:    "client",
				Usage:   "Client id whose selected document scopes questions",
				EnvVars: []string{"DOCQA_CLIENT"},
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print results as JSON",
			},
		},
		Before: func(c *cli.Context) error {
			if err := setupLogger(c); err != nil {
				return err
			}
			return r.loadConfig(c)
		},
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Ingest text or files (.txt, .md, .markdown, .pdf)",
				ArgsUsage: "[file ...]",
				Action:    r.action(ingestCommand),
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Title for --text or stdin input"},
					&cli.StringFlag{Name: "text", Usage: "Text to ingest instead of files"},
					&cli.BoolFlag{Name: "text-only", Usage: "Reject files that are not plain text or markdown"},
				},
			},
			{
				Name:      "ask",
				Usage:     "Answer a question from the selected document",
				ArgsUsage: "<question>",
				Action:    r.action(askCommand),
				Flags:     questionFlags(),
			},
			{
				Name:      "retrieve",
				Usage:     "Show the chunks nearest to a query without answering",
				ArgsUsage: "<query>",
				Action:    r.action(retrieveCommand),
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "k", Usage: "Number of chunks to return (default from config)"},
					&cli.StringFlag{Name: "doc", Aliases: []string{"d"}, Usage: "Restrict to this document id"},
					&cli.BoolFlag{Name: "trace", Usage: "Print retrieval steps to stderr"},
				},
			},
			{
				Name:      "ingest-ask",
				Usage:     "Ingest a document and immediately ask a question about it",
				ArgsUsage: "[file]",
				Action:    r.action(ingestAskCommand),
				Flags: append(questionFlags(),
					&cli.StringFlag{Name: "question", Aliases: []string{"q"}, Usage: "Question to ask", Required: true},
					&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Title for --text input"},
					&cli.StringFlag{Name: "text", Usage: "Text to ingest instead of a file"},
				),
			},
			{
				Name:   "docs",
				Usage:  "List documents, newest first",
				Action: r.action(docsCommand),
			},
			{
				Name:      "select",
				Usage:     "Select the document that scopes later questions",
				ArgsUsage: "<document-id>",
				Action:    r.action(selectCommand),
			},
			{
				Name:   "clear",
				Usage:  "Clear the selected document",
				Action: r.action(clearCommand),
			},
			{
				Name:   "logs",
				Usage:  "Show recent questions and answers",
				Action: r.action(logsCommand),
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Number of records (1-100, default from config)"},
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a document and its chunks",
				ArgsUsage: "<document-id>",
				Action:    r.action(deleteCommand),
			},
			{
				Name:   "reset",
				Usage:  "Delete all documents, chunks and logs",
				Action: r.action(resetCommand),
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Confirm deletion of all data"},
				},
			},
			{
				Name:   "reembed",
				Usage:  "Recompute all chunk embeddings with the configured embedding model",
				Action: r.action(reembedCommand),
				Flags:  reembedFlags(),
			},
		},
	}
}

func questionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "k", Usage: "Number of sources to retrieve (default from config)"},
		&cli.StringFlag{Name: "doc", Aliases: []string{"d"}, Usage: "Ask about this document id"},
		&cli.Float64Flag{Name: "max-distance", Usage: "Refuse when the best source is farther than this cosine distance"},
	}
}

func (r *runner) loadConfig(c *cli.Context) error {
	if err := config.LoadDotEnv(c.String("env-file")); err != nil {
		return err
	}

	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		if _, statErr := os.Stat(path); statErr != nil {
			return fmt.Errorf("config file: %w", statErr)
		}
		cfg, err = config.Load(path)
	} else {
		cfg, _, err = config.LoadDefault()
	}
	if err != nil {
		return err
	}
	if client := c.String("client"); client != "" {
		cfg.ClientID = client
	}
	r.cfg = cfg
	return nil
}

// action opens the engine around fn and renders its error.
func (r *runner) action(fn func(*cli.Context, *runner, *docqa.Engine) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		engine, err := r.open(c.Context, r.cfg)
		if err != nil {
			return cli.Exit(fmt.Sprintf("failed to open docqa: %v", err), 1)
		}
		defer engine.Close()

		return exitError(fn(c, r, engine))
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
