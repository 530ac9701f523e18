package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"wattsup/internal/domain"
)

const (
	// ConfidenceThreshold is the lowest confidence answered from the canned
	// table. Anything below it goes to the generative fallback.
	ConfidenceThreshold = 0.50

	// Apology is returned whenever the generative fallback fails.
	Apology = "I'm facing a technical issue, but I can help with electricity bills or energy-saving tips! ⚡"

	defaultFallbackTimeout = 8 * time.Second
)

// ErrLabelTableMismatch means the classifier produced a label the response
// table has no reply for.
var ErrLabelTableMismatch = errors.New("intent: no canned reply for label")

// Generator produces free text for a prompt. Implementations are expected
// to be slow and unreliable.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Reply is the text returned for one message and how it was produced.
type Reply struct {
	Text  string
	Route domain.Route
}

// Router answers a classified message from the canned table or the
// generative fallback.
type Router struct {
	table    ResponseTable
	fallback Generator
	timeout  time.Duration
	logger   *slog.Logger
}

type RouterOption func(*Router)

// WithFallbackTimeout bounds each fallback call.
func WithFallbackTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRouter builds a Router. A nil fallback is allowed; low-confidence
// messages then always get the apology.
func NewRouter(table ResponseTable, fallback Generator, opts ...RouterOption) (*Router, error) {
	if len(table.replies) == 0 {
		return nil, errors.New("intent: response table must not be empty")
	}
	r := &Router{
		table:    table,
		fallback: fallback,
		timeout:  defaultFallbackTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Route picks the reply for message given its classification. Fallback
// failures never surface as errors; a label missing from the table does.
func (r *Router) Route(ctx context.Context, message string, c domain.Classification) (Reply, error) {
	if c.Confidence < ConfidenceThreshold {
		return r.routeFallback(ctx, message, c), nil
	}

	text, ok := r.table.Lookup(c.Intent)
	if !ok {
		r.logger.Error("classifier label has no canned reply", "intent", c.Intent, "confidence", c.Confidence)
		return Reply{}, fmt.Errorf("%w: %q", ErrLabelTableMismatch, c.Intent)
	}
	return Reply{Text: text, Route: domain.RouteCanned}, nil
}

func (r *Router) routeFallback(ctx context.Context, message string, c domain.Classification) Reply {
	if r.fallback == nil {
		r.logger.Warn("fallback not configured", "intent", c.Intent, "confidence", c.Confidence)
		return Reply{Text: Apology, Route: domain.RouteFallbackFailed}
	}

	text, err := r.generate(ctx, message)
	if err != nil {
		r.logger.Warn("fallback generation failed", "err", err, "confidence", c.Confidence)
		return Reply{Text: Apology, Route: domain.RouteFallbackFailed}
	}
	if strings.TrimSpace(text) == "" {
		r.logger.Warn("fallback returned empty text", "confidence", c.Confidence)
		return Reply{Text: Apology, Route: domain.RouteFallbackFailed}
	}
	return Reply{Text: text, Route: domain.RouteFallback}
}

type generated struct {
	text string
	err  error
}

// generate calls the fallback and gives up at the timeout even if the
// generator ignores its context.
func (r *Router) generate(ctx context.Context, message string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan generated, 1)
	go func() {
		text, err := r.fallback.Generate(ctx, message)
		done <- generated{text: text, err: err}
	}()

	select {
	case res := <-done:
		return res.text, res.err
	case <-ctx.Done():
		return "", fmt.Errorf("intent: fallback: %w", ctx.Err())
	}
}
