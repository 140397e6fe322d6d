// Package answer decides whether a question can be answered from the stored
// documents and, when it can, generates an answer grounded in the retrieved
// passages.
//
// Each question runs through four steps:
//
//  1. Scope resolution: an explicit document, else the session's selected
//     document, else the newest document when the question reads as being
//     about "the document".
//  2. Retrieval of the k nearest chunks within that scope.
//  3. The guardrail: if the closest chunk is farther than the threshold, the
//     answer is RefusalAnswer and the generator is never called.
//  4. Generation from a prompt that contains only the retrieved sources.
//
// Every question that gets past scope resolution leaves an audit record.
package answer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/docqa/ai"
	"github.com/poiesic/docqa/audit"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/retrieval"
	"github.com/poiesic/docqa/session"
	"github.com/poiesic/docqa/storage"
)

var (
	// ErrDocumentRepositoryRequired is returned when a document repository is not provided.
	ErrDocumentRepositoryRequired = errors.New("document repository required")
	// ErrRetrieverRequired is returned when a retriever is not provided.
	ErrRetrieverRequired = errors.New("retriever required")
	// ErrGeneratorRequired is returned when a generator is not provided.
	ErrGeneratorRequired = errors.New("generator required")
	// ErrRecorderRequired is returned when an audit recorder is not provided.
	ErrRecorderRequired = errors.New("audit recorder required")
)

// Question is one answer request.
type Question struct {
	Text string
	// K is the number of sources to retrieve, used as given.
	K int
	// Scope restricts retrieval to one document. It takes precedence over
	// the session selection.
	Scope *core.ID
	// MaxDistance overrides the policy threshold.
	MaxDistance *float64
}

// Result is the outcome of Answer.
type Result struct {
	Answer       string
	Sources      []core.Source
	LogID        core.ID
	Scope        *core.ID
	BestDistance *float64
	MaxDistance  float64
	Refused      bool
}

// Answerer implements the question answering flow.
type Answerer struct {
	documents storage.DocumentRepository
	retriever *retrieval.Retriever
	generator ai.Generator
	recorder  *audit.Recorder
	policy    Policy
	logger    *slog.Logger
}

// Option configures an Answerer.
type Option func(*Answerer) error

// WithPolicy replaces DefaultPolicy.
func WithPolicy(policy Policy) Option {
	return func(a *Answerer) error {
		if err := policy.Validate(); err != nil {
			return err
		}
		a.policy = policy
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Answerer) error {
		if logger != nil {
			a.logger = logger
		}
		return nil
	}
}

// NewAnswerer creates an Answerer.
func NewAnswerer(
	documents storage.DocumentRepository,
	retriever *retrieval.Retriever,
	generator ai.Generator,
	recorder *audit.Recorder,
	opts ...Option,
) (*Answerer, error) {
	switch {
	case documents == nil:
		return nil, ErrDocumentRepositoryRequired
	case retriever == nil:
		return nil, ErrRetrieverRequired
	case generator == nil:
		return nil, ErrGeneratorRequired
	case recorder == nil:
		return nil, ErrRecorderRequired
	}

	a := &Answerer{
		documents: documents,
		retriever: retriever,
		generator: generator,
		recorder:  recorder,
		policy:    DefaultPolicy(),
		logger:    slog.Default().With("component", "answer"),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Policy returns the guardrail policy in effect.
func (a *Answerer) Policy() Policy {
	return a.policy
}

// ResolveScope picks the document a question is restricted to. A nil scope
// with a nil error means an unscoped search, which only happens when the
// policy allows it.
func (a *Answerer) ResolveScope(ctx context.Context, sess *session.Session, q Question) (*core.ID, error) {
	const op = "resolve scope"

	if q.Scope != nil {
		if _, err := a.documents.GetDocument(ctx, *q.Scope); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, core.NewError(core.KindNotFound, op, core.ErrDocumentNotFound)
			}
			return nil, core.Wrap(core.KindStoreFailure, op, err)
		}
		return q.Scope, nil
	}

	selected, err := sess.SelectedDocument(ctx)
	if err != nil {
		return nil, core.Wrap(core.KindStoreFailure, op, err)
	}
	if selected != nil {
		_, err := a.documents.GetDocument(ctx, *selected)
		switch {
		case err == nil:
			return selected, nil
		case errors.Is(err, storage.ErrNotFound):
			a.logger.Warn("ignoring selection of deleted document", "client", sess.ClientID(), "document_id", *selected)
		default:
			return nil, core.Wrap(core.KindStoreFailure, op, err)
		}
	}

	if HasIntentCue(q.Text) || a.policy.AllowUnscoped {
		latest, err := a.documents.LatestDocument(ctx)
		switch {
		case err == nil:
			if HasIntentCue(q.Text) {
				return &latest.Id, nil
			}
			return nil, nil
		case !errors.Is(err, storage.ErrNotFound):
			return nil, core.Wrap(core.KindStoreFailure, op, err)
		}
	}

	return nil, core.NewError(core.KindNoDocumentSelected, op, core.ErrNoDocumentSelected)
}

// Answer answers q within the resolved scope.
func (a *Answerer) Answer(ctx context.Context, sess *session.Session, q Question) (*Result, error) {
	const op = "answer"
	start := time.Now()
	logger := a.logger.With("request", uuid.NewString())

	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return nil, core.NewError(core.KindInvalidInput, op, core.ErrEmptyQuestion)
	}

	scope, err := a.ResolveScope(ctx, sess, q)
	if err != nil {
		return nil, err
	}
	maxDistance := a.policy.MaxDistance(scope != nil)
	if q.MaxDistance != nil {
		maxDistance = *q.MaxDistance
	}

	sources, err := a.retriever.Retrieve(ctx, q.Text, q.K, scope)
	if err != nil {
		return nil, err
	}
	best := retrieval.BestDistance(sources)

	entry, err := a.recorder.Begin(ctx, &core.QueryLog{
		Question:     q.Text,
		K:            q.K,
		Scope:        scope,
		MaxDistance:  maxDistance,
		BestDistance: best,
	})
	if err != nil {
		return nil, err
	}
	logger = logger.With("log_id", entry.Id)

	result := &Result{
		LogID:        entry.Id,
		Scope:        scope,
		BestDistance: best,
		MaxDistance:  maxDistance,
	}

	if !ShouldAnswer(best, maxDistance) {
		logger.Info("refusing to answer", "best_distance", best, "max_distance", maxDistance)
		if err := a.recorder.Finish(context.WithoutCancel(ctx), entry, RefusalAnswer, nil, time.Since(start)); err != nil {
			return nil, err
		}
		result.Answer = RefusalAnswer
		result.Sources = []core.Source{}
		result.Refused = true
		return result, nil
	}

	text, err := a.generator.Generate(ctx, SystemInstruction, BuildUserPrompt(sources, q.Text))
	if err != nil {
		logger.Error("generation failed", "err", err)
		// The record must outlive a cancelled request.
		if ferr := a.recorder.Fail(context.WithoutCancel(ctx), entry, err, time.Since(start)); ferr != nil {
			logger.Error("failed to record generation failure", "err", ferr)
		}
		return nil, core.NewError(core.KindProviderFailure, op, core.ErrGenerationFailed)
	}

	if err := a.recorder.Finish(context.WithoutCancel(ctx), entry, text, sources, time.Since(start)); err != nil {
		return nil, err
	}
	logger.Debug("answered", "sources", len(sources), "best_distance", *best)

	result.Answer = text
	result.Sources = sources
	return result, nil
}
