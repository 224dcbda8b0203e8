// Package pipeline implements the conversation engine: a directed
// sequence of stages that turns one inbound WhatsApp message into a
// grounded reply and a fully persisted customer record.
//
// Stage order: ingest, intent, preferences, sentiment, market, cache
// check, retrieval, generation, finalize. Routing between stages reads
// only the Checkpoint tag: human mode terminates the run at ingest, a
// semantic cache hit jumps straight to finalize.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/alberto591/ai-automation-agency-sub000/internal/genai"
	"github.com/alberto591/ai-automation-agency-sub000/internal/models"
	"github.com/alberto591/ai-automation-agency-sub000/internal/qualification"
	"github.com/alberto591/ai-automation-agency-sub000/internal/store"
)

// Sender delivers an outbound message and returns a delivery id.
type Sender interface {
	Send(ctx context.Context, phone, text string) (string, error)
}

// Notifier receives hot-lead alerts. Notifications are informational
// and run asynchronously; they may race the pipeline's completion.
type Notifier interface {
	NotifyHotLead(phone string, result qualification.Result)
}

const (
	// historyWindow bounds the recent-history slice fed to generation.
	historyWindow = 10

	// similarityThreshold is the retrieval acceptance bar. Candidates
	// below it are only surfaced through the low-confidence fallback.
	similarityThreshold = 0.78

	// fallbackCandidates is how many raw candidates the low-confidence
	// fallback surfaces when nothing clears the threshold.
	fallbackCandidates = 2
)

// Status notes consumed by the generation prompt.
const (
	noteLowConfidence = "low_confidence_matches"
	noteNoResults     = "no_properties_found"
)

// Engine orchestrates the conversation pipeline for one customer at a
// time. It is safe for concurrent use across different customers; the
// store is the serialization point for per-record writes.
type Engine struct {
	store    store.Store
	ai       genai.ClientInterface
	sender   Sender
	notifier Notifier
}

// NewEngine creates a pipeline engine. notifier may be nil to disable
// hot-lead alerts.
func NewEngine(st store.Store, ai genai.ClientInterface, sender Sender, notifier Notifier) *Engine {
	return &Engine{store: st, ai: ai, sender: sender, notifier: notifier}
}

type stageFunc func(ctx context.Context, st RunState) (RunState, error)

// Run executes the full pipeline for one inbound message and returns
// the reply text. An empty reply with a nil error means no reply was
// issued (human takeover). Errors surface only from the terminal
// paths: the ingest load, the outbound send, and the finalize commit.
func (e *Engine) Run(ctx context.Context, in models.InboundMessage) (string, error) {
	if err := in.Validate(); err != nil {
		return "", err
	}

	st := RunState{
		Phone:      in.Phone,
		Input:      in.Text,
		MediaURL:   in.MediaURL,
		Context:    in.Context,
		LeadSource: in.Source,
	}

	st, err := e.ingest(ctx, st)
	if err != nil {
		return "", err
	}
	if st.Checkpoint == CheckpointHumanMode {
		slog.Info("Engine.Run: human mode, no reply issued", "phone", st.Phone)
		return "", nil
	}

	// Best-effort stages. Each swallows its own failures and degrades
	// to defaults; none of them may abort the run.
	for _, stage := range []stageFunc{
		e.extractIntent,
		e.extractPreferences,
		e.extractSentiment,
		e.marketContext,
		e.cacheCheck,
		e.retrieve,
		e.generate,
	} {
		st, err = stage(ctx, st)
		if err != nil {
			// Stage contract violation; stages report failures through
			// fallback fields, not errors.
			slog.Error("Engine.Run: stage returned an error", "error", err, "phone", st.Phone)
			return "", err
		}
		if st.Checkpoint == CheckpointCacheHit {
			break
		}
	}

	st, err = e.finalize(ctx, st)
	if err != nil {
		return "", err
	}
	slog.Debug("Engine.Run: run complete", "phone", st.Phone, "checkpoint", st.Checkpoint.String())
	return st.Reply, nil
}
