// Package publisher applies session lifecycle transitions to the store and
// triggers document synthesis on terminal transitions.
package publisher

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/gateway/metrics"
	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/interview"
	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/store"
	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/synthesis"
)

// SessionStore is the slice of the store the publisher needs.
type SessionStore interface {
	FindByToken(ctx context.Context, token string) (*interview.Session, error)
	UpdateFields(ctx context.Context, token string, fields store.Fields) error
}

type Publisher struct {
	store  SessionStore
	synth  synthesis.Synthesizer
	logger *slog.Logger
	now    func() time.Time

	// synthesisTimeout bounds each background synthesis call.
	synthesisTimeout time.Duration
}

func New(st SessionStore, synth synthesis.Synthesizer, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		store:            st,
		synth:            synth,
		logger:           logger,
		now:              time.Now,
		synthesisTimeout: 3 * time.Minute,
	}
}

// MarkActive attaches a relay to the session: status active, startedAt set
// once on first activation and preserved across reconnects, stale endedAt
// cleared.
func (p *Publisher) MarkActive(ctx context.Context, sess *interview.Session) error {
	fields := store.Fields{
		"status":   string(interview.StatusActive),
		"ended_at": nil,
	}
	if sess.StartedAt == nil {
		fields["started_at"] = p.now().UTC()
	}
	return p.store.UpdateFields(ctx, sess.Token, fields)
}

// PublishEnded records an explicit end with discard intent: terminal status
// ended, or cancelled when the session never captured a transcript. The
// resumption handle is cleared on every terminal transition.
func (p *Publisher) PublishEnded(ctx context.Context, token string, hasTranscript bool) error {
	status := interview.StatusEnded
	if !hasTranscript {
		status = interview.StatusCancelled
	}
	err := p.store.UpdateFields(ctx, token, store.Fields{
		"status":            string(status),
		"ended_at":          p.now().UTC(),
		"resumption_handle": nil,
	})
	if err == nil {
		metrics.SessionsDetached.WithLabelValues("explicit_end").Inc()
	}
	return err
}

// PublishProcessing records an ungraceful detach: status processing with
// endedAt set and the resumption handle cleared, then kicks off document
// synthesis as an untracked background task. The caller never observes the
// synthesis result except through the persisted status field.
func (p *Publisher) PublishProcessing(ctx context.Context, token string) error {
	err := p.store.UpdateFields(ctx, token, store.Fields{
		"status":            string(interview.StatusProcessing),
		"ended_at":          p.now().UTC(),
		"resumption_handle": nil,
	})
	if err != nil {
		return err
	}
	metrics.SessionsDetached.WithLabelValues("disconnect").Inc()
	go p.synthesize(token)
	return nil
}

// Regenerate re-invokes the synthesis trigger for a session. Duplicate
// invocation under caller retry is an accepted risk.
func (p *Publisher) Regenerate(token string) {
	go p.synthesize(token)
}

// synthesize is the fire-and-forget document pipeline. Detached from any
// request context: the relay that triggered it is usually gone already.
func (p *Publisher) synthesize(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.synthesisTimeout)
	defer cancel()

	sess, err := p.store.FindByToken(ctx, token)
	if err != nil {
		p.logger.Error("synthesis: failed to load session", "session_token", token, "error", err)
		return
	}

	transcript := strings.TrimSpace(interview.TranscriptText(sess.Transcript))
	if transcript == "" {
		p.logger.Info("synthesis: empty transcript, skipping", "session_token", token)
		metrics.SynthesisOutcomes.WithLabelValues("skipped").Inc()
		return
	}

	doc, err := p.synth.Synthesize(ctx, sess, transcript)
	if err != nil {
		p.logger.Error("synthesis failed", "session_token", token, "error", err)
		metrics.SynthesisOutcomes.WithLabelValues("failed").Inc()
		if uerr := p.store.UpdateFields(ctx, token, store.Fields{
			"status": string(interview.StatusFailed),
		}); uerr != nil {
			p.logger.Error("synthesis: failed to persist failed status", "session_token", token, "error", uerr)
		}
		return
	}

	rendered := interview.RenderMarkdown(doc)
	if err := p.store.UpdateFields(ctx, token, store.Fields{
		"status":            string(interview.StatusCompleted),
		"document":          doc,
		"document_markdown": rendered,
	}); err != nil {
		p.logger.Error("synthesis: failed to persist document", "session_token", token, "error", err)
		return
	}
	metrics.SynthesisOutcomes.WithLabelValues("completed").Inc()
	p.logger.Info("synthesis completed", "session_token", token, "sections", len(doc.Sections))
}
