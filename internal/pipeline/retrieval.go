package pipeline

import (
	"context"
	"log/slog"

	"github.com/alberto591/ai-automation-agency-sub000/internal/models"
)

// cacheCheck embeds the input and consults the semantic cache. A hit
// sets the reply and skips retrieval and generation entirely; a miss
// keeps the embedding for the finalize-stage cache write.
func (e *Engine) cacheCheck(ctx context.Context, st RunState) (RunState, error) {
	if st.Scripted {
		// A pending qualification question must reach the customer;
		// a cached generic reply would swallow it.
		st.Checkpoint = CheckpointContinue
		return st, nil
	}

	embedding, err := e.ai.Embed(ctx, st.Input)
	if err != nil {
		slog.Warn("Engine.cacheCheck: embedding failed, skipping cache",
			"error", err, "phone", st.Phone)
		st.Checkpoint = CheckpointContinue
		return st, nil
	}
	st.Embedding = embedding

	cached, err := e.store.CachedResponse(embedding)
	if err != nil {
		slog.Warn("Engine.cacheCheck: cache lookup failed, treating as miss",
			"error", err, "phone", st.Phone)
		st.Checkpoint = CheckpointContinue
		return st, nil
	}
	if cached != "" {
		slog.Debug("Engine.cacheCheck: cache hit", "phone", st.Phone)
		st.Reply = cached
		st.Checkpoint = CheckpointCacheHit
		return st, nil
	}
	st.Checkpoint = CheckpointContinue
	return st, nil
}

// retrieve searches the property catalog and applies the confidence
// fallback ladder: candidates under the acceptance threshold are only
// surfaced as explicit "closest alternatives", and an empty catalog
// result is admitted transparently rather than papered over.
func (e *Engine) retrieve(ctx context.Context, st RunState) (RunState, error) {
	if st.Scripted {
		return st, nil
	}

	filters := models.PropertyFilters{
		Zone:     st.Customer.Zone,
		Bedrooms: st.Preferences.Bedrooms,
	}
	if st.Intent.Budget > 0 {
		filters.MaxPrice = st.Intent.Budget
	} else if st.Customer.Budget > 0 {
		filters.MaxPrice = st.Customer.Budget
	}
	if filters.Zone == "" && len(st.Preferences.Zones) > 0 {
		filters.Zone = st.Preferences.Zones[0]
	}

	candidates, err := e.store.SearchProperties(st.Input, st.Embedding, filters)
	if err != nil {
		slog.Warn("Engine.retrieve: search failed, admitting the gap",
			"error", err, "phone", st.Phone)
		st.Matches = nil
		st.StatusNote = noteNoResults
		st.Checkpoint = CheckpointContinue
		return st, nil
	}

	var accepted []models.PropertyMatch
	for _, c := range candidates {
		if c.Similarity >= similarityThreshold {
			accepted = append(accepted, c)
		}
	}

	switch {
	case len(accepted) > 0:
		st.Matches = accepted
		st.StatusNote = ""
	case len(candidates) > 0:
		// Nothing confident, but partial information beats silence.
		if len(candidates) > fallbackCandidates {
			candidates = candidates[:fallbackCandidates]
		}
		st.Matches = candidates
		st.StatusNote = noteLowConfidence
	default:
		st.Matches = nil
		st.StatusNote = noteNoResults
	}
	st.Checkpoint = CheckpointContinue
	return st, nil
}
