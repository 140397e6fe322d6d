package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/poiesic/docqa"
	"github.com/poiesic/docqa/answer"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/ingestion"
	"github.com/poiesic/docqa/reembed"
	"github.com/urfave/cli/v2"
)

// Exit codes per error kind.
const (
	exitFailure            = 1
	exitInvalidInput       = 2
	exitEmptyExtraction    = 3
	exitNoDocumentSelected = 4
	exitProviderFailure    = 5
	exitStoreFailure       = 6
	exitNotFound           = 7
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	refusedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// exitError maps a core error kind to a message and exit code.
func exitError(err error) error {
	if err == nil {
		return nil
	}
	var exit cli.ExitCoder
	if errors.As(err, &exit) {
		return err
	}

	switch core.KindOf(err) {
	case core.KindInvalidInput:
		return cli.Exit(err.Error(), exitInvalidInput)
	case core.KindEmptyExtraction:
		return cli.Exit(err.Error(), exitEmptyExtraction)
	case core.KindNoDocumentSelected:
		return cli.Exit("no document selected: ingest a document, select one with `docqa select`, or pass --doc", exitNoDocumentSelected)
	case core.KindProviderFailure:
		return cli.Exit(err.Error(), exitProviderFailure)
	case core.KindStoreFailure:
		return cli.Exit(err.Error(), exitStoreFailure)
	case core.KindNotFound:
		return cli.Exit(err.Error(), exitNotFound)
	default:
		return cli.Exit(err.Error(), exitFailure)
	}
}

type ingestView struct {
	DocumentID core.ID           `json:"document_id"`
	Title      string            `json:"title"`
	Source     string            `json:"source"`
	Chunks     int               `json:"chunks"`
	Status     core.IngestStatus `json:"status"`
}

type fileView struct {
	Name   string      `json:"name"`
	Result *ingestView `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

type sourceView struct {
	DocumentID core.ID `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Distance   float64 `json:"distance"`
}

type answerView struct {
	Answer       string       `json:"answer"`
	Sources      []sourceView `json:"sources"`
	LogID        core.ID      `json:"log_id"`
	Scope        *core.ID     `json:"scope"`
	BestDistance *float64     `json:"best_distance"`
	MaxDistance  float64      `json:"max_distance"`
	Refused      bool         `json:"refused"`
}

type documentView struct {
	ID        core.ID   `json:"id"`
	Title     string    `json:"title"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type logView struct {
	ID           core.ID      `json:"id"`
	CreatedAt    time.Time    `json:"created_at"`
	Question     string       `json:"question"`
	K            int          `json:"k"`
	Scope        *core.ID     `json:"scope"`
	MaxDistance  float64      `json:"max_distance"`
	BestDistance *float64     `json:"best_distance"`
	Answer       string       `json:"answer"`
	Sources      []sourceView `json:"sources"`
	LatencyMs    int64        `json:"latency_ms"`
	Error        string       `json:"error,omitempty"`
}

type reembedView struct {
	Documents int     `json:"documents"`
	Chunks    int     `json:"chunks"`
	Skipped   int     `json:"skipped"`
	Seconds   float64 `json:"seconds"`
}

func toIngestView(r *ingestion.Result) *ingestView {
	return &ingestView{
		DocumentID: r.DocumentID,
		Title:      r.Title,
		Source:     r.Source,
		Chunks:     r.ChunkCount,
		Status:     r.Status,
	}
}

func toSourceViews(sources []core.Source) []sourceView {
	views := make([]sourceView, len(sources))
	for i, s := range sources {
		views[i] = sourceView{DocumentID: s.DocumentId, ChunkIndex: s.ChunkIndex, Text: s.Text, Distance: s.Distance}
	}
	return views
}

func toAnswerView(r *answer.Result) *answerView {
	return &answerView{
		Answer:       r.Answer,
		Sources:      toSourceViews(r.Sources),
		LogID:        r.LogID,
		Scope:        r.Scope,
		BestDistance: r.BestDistance,
		MaxDistance:  r.MaxDistance,
		Refused:      r.Refused,
	}
}

// printer writes command results as styled text or, with --json, as
// indented JSON.
type printer struct {
	out  io.Writer
	json bool
}

func newPrinter(c *cli.Context) *printer {
	return &printer{out: c.App.Writer, json: c.Bool("json")}
}

func (p *printer) encode(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) message(text string, v any) error {
	if p.json {
		return p.encode(v)
	}
	_, err := fmt.Fprintln(p.out, text)
	return err
}

func (p *printer) ingest(r *ingestion.Result) error {
	if p.json {
		return p.encode(toIngestView(r))
	}
	_, err := fmt.Fprintf(p.out, "%s document %s %q (%s, %d chunks)\n",
		headerStyle.Render(statusLabel(r.Status)),
		r.DocumentID, r.Title, r.Source, r.ChunkCount)
	return err
}

func statusLabel(status core.IngestStatus) string {
	if status == core.IngestUpdated {
		return "Updated"
	}
	return "Created"
}

func (p *printer) fileResults(results []ingestion.FileResult) error {
	if p.json {
		views := make([]fileView, len(results))
		for i, res := range results {
			views[i] = fileView{Name: res.Name}
			if res.Err != nil {
				views[i].Error = res.Err.Error()
			} else {
				views[i].Result = toIngestView(res.Result)
			}
		}
		return p.encode(views)
	}

	for _, res := range results {
		if res.Err != nil {
			fmt.Fprintf(p.out, "%s %s: %v\n", errorStyle.Render("failed"), res.Name, res.Err)
			continue
		}
		if err := p.ingest(res.Result); err != nil {
			return err
		}
	}
	return nil
}

func (p *printer) answer(r *answer.Result) error {
	if p.json {
		return p.encode(toAnswerView(r))
	}

	if r.Refused {
		fmt.Fprintln(p.out, refusedStyle.Render(r.Answer))
	} else {
		fmt.Fprintln(p.out, r.Answer)
	}
	if len(r.Sources) > 0 {
		fmt.Fprintln(p.out)
		p.writeSources(r.Sources)
	}

	best := "none"
	if r.BestDistance != nil {
		best = fmt.Sprintf("%.3f", *r.BestDistance)
	}
	scope := "all documents"
	if r.Scope != nil {
		scope = "document " + r.Scope.String()
	}
	_, err := fmt.Fprintln(p.out, mutedStyle.Render(fmt.Sprintf("log %s, %s, best distance %s, max %.3f", r.LogID, scope, best, r.MaxDistance)))
	return err
}

func (p *printer) ingestAnswer(r *docqa.IngestAnswer) error {
	if p.json {
		return p.encode(struct {
			Ingest *ingestView `json:"ingest"`
			Answer *answerView `json:"answer"`
		}{toIngestView(r.Ingest), toAnswerView(r.Answer)})
	}
	return p.answer(r.Answer)
}

func (p *printer) sources(sources []core.Source) error {
	if p.json {
		return p.encode(toSourceViews(sources))
	}
	if len(sources) == 0 {
		_, err := fmt.Fprintln(p.out, "No matching chunks")
		return err
	}
	p.writeSources(sources)
	return nil
}

func (p *printer) writeSources(sources []core.Source) {
	for i, s := range sources {
		fmt.Fprintf(p.out, "%s %s\n%s\n\n",
			headerStyle.Render(fmt.Sprintf("[source %d]", i+1)),
			mutedStyle.Render(fmt.Sprintf("document %s chunk %d distance %.3f", s.DocumentId, s.ChunkIndex, s.Distance)),
			s.Text)
	}
}

func (p *printer) documents(docs []*core.Document) error {
	if p.json {
		views := make([]documentView, len(docs))
		for i, d := range docs {
			views[i] = documentView{ID: d.Id, Title: d.Title, Source: d.Source, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt}
		}
		return p.encode(views)
	}
	if len(docs) == 0 {
		_, err := fmt.Fprintln(p.out, "No documents")
		return err
	}
	for _, d := range docs {
		fmt.Fprintf(p.out, "%s  %s  %s\n",
			headerStyle.Render(d.Id.String()),
			d.Title,
			mutedStyle.Render(fmt.Sprintf("%s, updated %s", d.Source, d.UpdatedAt.Local().Format(time.DateTime))))
	}
	return nil
}

func (p *printer) logs(logs []*core.QueryLog) error {
	if p.json {
		views := make([]logView, len(logs))
		for i, l := range logs {
			views[i] = logView{
				ID:           l.Id,
				CreatedAt:    l.CreatedAt,
				Question:     l.Question,
				K:            l.K,
				Scope:        l.Scope,
				MaxDistance:  l.MaxDistance,
				BestDistance: l.BestDistance,
				Answer:       l.Answer,
				Sources:      toSourceViews(l.Sources),
				LatencyMs:    l.LatencyMs,
				Error:        l.Error,
			}
		}
		return p.encode(views)
	}
	if len(logs) == 0 {
		_, err := fmt.Fprintln(p.out, "No logs")
		return err
	}
	for _, l := range logs {
		fmt.Fprintf(p.out, "%s %s\n", headerStyle.Render(l.Id.String()), mutedStyle.Render(l.CreatedAt.Local().Format(time.DateTime)))
		fmt.Fprintf(p.out, "Q: %s\n", l.Question)
		if l.Failed() {
			fmt.Fprintf(p.out, "%s %s\n", errorStyle.Render("error:"), l.Error)
		} else {
			fmt.Fprintf(p.out, "A: %s\n", l.Answer)
		}
		fmt.Fprintln(p.out, mutedStyle.Render(fmt.Sprintf("%d sources, %dms", len(l.Sources), l.LatencyMs)))
		fmt.Fprintln(p.out)
	}
	return nil
}

func (p *printer) reembed(s *reembed.Summary) error {
	if p.json {
		return p.encode(reembedView{Documents: s.Documents, Chunks: s.Chunks, Skipped: s.Skipped, Seconds: s.Elapsed.Seconds()})
	}
	if _, err := fmt.Fprintf(p.out, "Reembedded %d chunks in %d documents in %s\n", s.Chunks, s.Documents, s.Elapsed.Round(time.Millisecond)); err != nil {
		return err
	}
	if s.Skipped > 0 {
		_, err := fmt.Fprintf(p.out, "Skipped %d documents re-ingested during the run\n", s.Skipped)
		return err
	}
	return nil
}
