package pipeline

import (
	"context"
	"log/slog"

	"github.com/alberto591/ai-automation-agency-sub000/internal/models"
)

// marketContext fetches comparable pricing for appraisal leads and
// purchase negotiations. Absent data yields an empty context, never an
// error.
func (e *Engine) marketContext(ctx context.Context, st RunState) (RunState, error) {
	if st.LeadSource != models.SourceAppraisal && st.Intent.Intent != models.IntentPurchase {
		st.Checkpoint = CheckpointContinue
		return st, nil
	}

	zone := st.Customer.Zone
	if zone == "" && len(st.Preferences.Zones) > 0 {
		zone = st.Preferences.Zones[0]
	}
	if zone == "" {
		st.Checkpoint = CheckpointContinue
		return st, nil
	}

	stats, err := e.store.ComparablePrices(zone)
	if err != nil {
		slog.Warn("Engine.marketContext: lookup failed, continuing without",
			"error", err, "zone", zone, "phone", st.Phone)
		st.Checkpoint = CheckpointContinue
		return st, nil
	}
	st.Market = stats
	st.Checkpoint = CheckpointContinue
	return st, nil
}
