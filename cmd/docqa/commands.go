package main

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/poiesic/docqa"
	"github.com/poiesic/docqa/answer"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/extract"
	"github.com/poiesic/docqa/ingestion"
	"github.com/poiesic/docqa/reembed"
	"github.com/poiesic/docqa/retrieval"
	"github.com/urfave/cli/v2"
)

// traceMonitor prints retrieval steps.
type traceMonitor struct {
	w io.Writer
}

func (m *traceMonitor) Start(query string, k int, scope *core.ID) {
	where := "all documents"
	if scope != nil {
		where = "document " + scope.String()
	}
	fmt.Fprintf(m.w, "retrieving k=%d from %s for %q\n", k, where, query)
}

func (m *traceMonitor) AfterEmbedding(dimensions int) {
	fmt.Fprintf(m.w, "query embedded (%d dimensions)\n", dimensions)
}

func (m *traceMonitor) Finish(sources []core.Source) {
	fmt.Fprintf(m.w, "%d chunks returned\n", len(sources))
}

func ingestCommand(c *cli.Context, r *runner, engine *docqa.Engine) error {
	ctx := c.Context
	sess := engine.Session(r.cfg.ClientID)
	p := newPrinter(c)

	if c.IsSet("text") || c.NArg() == 0 {
		text, err := textInput(c)
		if err != nil {
			return err
		}
		result, err := engine.IngestText(ctx, sess, c.String("title"), text)
		if err != nil {
			return err
		}
		return p.ingest(result)
	}

	files, err := readFiles(c.Args().Slice())
	if err != nil {
		return err
	}
	if c.Bool("text-only") {
		for _, f := range files {
			if !extract.IsTextFile(f.Name) {
				return core.NewError(core.KindInvalidInput, "ingest", fmt.Errorf("%w: %s", core.ErrUnsupportedFile, f.Name))
			}
		}
	}

	if len(files) == 1 {
		result, err := engine.IngestFile(ctx, sess, files[0])
		if err != nil {
			return err
		}
		return p.ingest(result)
	}

	results := engine.IngestFiles(ctx, sess, files)
	if err := p.fileResults(results); err != nil {
		return err
	}
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d files failed", failed, len(results)), 1)
	}
	return nil
}

func askCommand(c *cli.Context, r *runner, engine *docqa.Engine) error {
	q, err := question(c, engine, strings.Join(c.Args().Slice(), " "))
	if err != nil {
		return err
	}
	result, err := engine.Answer(c.Context, engine.Session(r.cfg.ClientID), q)
	if err != nil {
		return err
	}
	return newPrinter(c).answer(result)
}

func retrieveCommand(c *cli.Context, r *runner, engine *docqa.Engine) error {
	scope, err := scopeFlag(c)
	if err != nil {
		return err
	}
	k := c.Int("k")
	if k <= 0 {
		k = engine.Policy().DefaultK
	}
	var monitor retrieval.Monitor
	if c.Bool("trace") {
		monitor = &traceMonitor{w: c.App.ErrWriter}
	}
	sources, err := engine.RetrieveWithMonitor(c.Context, strings.Join(c.Args().Slice(), " "), k, scope, monitor)
	if err != nil {
		return err
	}
	return newPrinter(c).sources(sources)
}

func ingestAskCommand(c *cli.Context, r *runner, engine *docqa.Engine) error {
	if c.IsSet("doc") {
		return core.NewError(core.KindInvalidInput, "ingest-ask", errors.New("--doc cannot be combined with ingest-ask"))
	}
	q, err := question(c, engine, c.String("question"))
	if err != nil {
		return err
	}

	req := docqa.IngestRequest{Title: c.String("title")}
	switch {
	case c.NArg() > 1:
		return core.NewError(core.KindInvalidInput, "ingest-ask", errors.New("ingest-ask takes at most one file"))
	case c.NArg() == 1 && !c.IsSet("text"):
		files, err := readFiles(c.Args().Slice())
		if err != nil {
			return err
		}
		req.File = &files[0]
	default:
		if req.Text, err = textInput(c); err != nil {
			return err
		}
	}

	result, err := engine.IngestAndAnswer(c.Context, engine.Session(r.cfg.ClientID), req, q)
	p := newPrinter(c)
	if result != nil && result.Ingest != nil && !p.json {
		if perr := p.ingest(result.Ingest); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}
	return p.ingestAnswer(result)
}

func docsCommand(c *cli.Context, _ *runner, engine *docqa.Engine) error {
	docs, err := engine.ListDocuments(c.Context)
	if err != nil {
		return err
	}
	return newPrinter(c).documents(docs)
}

func selectCommand(c *cli.Context, r *runner, engine *docqa.Engine) error {
	id, err := idArg(c)
	if err != nil {
		return err
	}
	if err := engine.SelectDocument(c.Context, engine.Session(r.cfg.ClientID), id); err != nil {
		return err
	}
	return newPrinter(c).message(fmt.Sprintf("Selected document %s", id), map[string]any{"selected": id})
}

func clearCommand(c *cli.Context, r *runner, engine *docqa.Engine) error {
	if err := engine.ClearSelection(c.Context, engine.Session(r.cfg.ClientID)); err != nil {
		return err
	}
	return newPrinter(c).message("Selection cleared", map[string]any{"selected": nil})
}

func logsCommand(c *cli.Context, r *runner, engine *docqa.Engine) error {
	limit := r.cfg.LogLimit
	if c.IsSet("limit") {
		limit = c.Int("limit")
	}
	logs, err := engine.ListLogs(c.Context, limit)
	if err != nil {
		return err
	}
	return newPrinter(c).logs(logs)
}

func deleteCommand(c *cli.Context, r *runner, engine *docqa.Engine) error {
	id, err := idArg(c)
	if err != nil {
		return err
	}
	if err := engine.DeleteDocument(c.Context, engine.Session(r.cfg.ClientID), id); err != nil {
		return err
	}
	return newPrinter(c).message(fmt.Sprintf("Deleted document %s", id), map[string]any{"deleted": id})
}

func resetCommand(c *cli.Context, r *runner, engine *docqa.Engine) error {
	if !c.Bool("yes") {
		return cli.Exit("reset deletes all documents and logs; pass --yes to confirm", 1)
	}
	if err := engine.Reset(c.Context, engine.Session(r.cfg.ClientID)); err != nil {
		return err
	}
	return newPrinter(c).message("All documents and logs deleted", map[string]any{"reset": true})
}

func reembedFlags() []cli.Flag {
	defaults := reembed.DefaultConfig()
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "batch-size",
			Usage: "Number of chunks per embedding call",
			Value: defaults.BatchSize,
		},
		&cli.IntFlag{
			Name:  "report-interval",
			Usage: "Report progress every N chunks",
			Value: defaults.ReportInterval,
		},
		&cli.IntFlag{
			Name:  "max-retries",
			Usage: "Maximum attempts for each embedding call",
			Value: defaults.MaxRetries,
		},
		&cli.DurationFlag{
			Name:  "retry-delay",
			Usage: "Base delay between retries (exponential backoff)",
			Value: defaults.RetryDelay,
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "Number of documents reembedded concurrently",
			Value: defaults.Workers,
		},
	}
}

func reembedCommand(c *cli.Context, _ *runner, engine *docqa.Engine) error {
	cfg := &reembed.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
		Workers:        c.Int("workers"),
	}
	if cfg.BatchSize <= 0 {
		return cli.Exit("batch-size must be greater than 0", 1)
	}
	if cfg.MaxRetries <= 0 {
		return cli.Exit("max-retries must be greater than 0", 1)
	}

	summary, err := engine.Reembed(c.Context, cfg, c.App.ErrWriter)
	if err != nil {
		return err
	}
	return newPrinter(c).reembed(summary)
}

// question builds an answer.Question from text and the question flags. An
// unset or non-positive --k takes the policy default.
func question(c *cli.Context, engine *docqa.Engine, text string) (answer.Question, error) {
	scope, err := scopeFlag(c)
	if err != nil {
		return answer.Question{}, err
	}
	k := c.Int("k")
	if k <= 0 {
		k = engine.Policy().DefaultK
	}
	q := answer.Question{Text: text, K: k, Scope: scope}
	if c.IsSet("max-distance") {
		d := c.Float64("max-distance")
		if d < 0 || d > 2 {
			return answer.Question{}, core.NewError(core.KindInvalidInput, "ask", fmt.Errorf("max-distance %v out of range [0, 2]", d))
		}
		q.MaxDistance = &d
	}
	return q, nil
}

func scopeFlag(c *cli.Context) (*core.ID, error) {
	if !c.IsSet("doc") {
		return nil, nil
	}
	id, err := core.ParseID(c.String("doc"))
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func idArg(c *cli.Context) (core.ID, error) {
	if c.NArg() != 1 {
		return 0, cli.Exit(fmt.Sprintf("usage: docqa %s %s", c.Command.Name, c.Command.ArgsUsage), 1)
	}
	return core.ParseID(c.Args().First())
}

// textInput returns --text, or stdin when the flag is absent.
func textInput(c *cli.Context) (string, error) {
	if c.IsSet("text") {
		return c.String("text"), nil
	}
	data, err := io.ReadAll(c.App.Reader)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}

func readFiles(paths []string) ([]ingestion.File, error) {
	files := make([]ingestion.File, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		files = append(files, ingestion.File{
			Name:     filepath.Base(path),
			Data:     data,
			MimeHint: mime.TypeByExtension(filepath.Ext(path)),
		})
	}
	return files, nil
}
