package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/alberto591/ai-automation-agency-sub000/internal/models"
)

// finalize is the single commit point of a run: it writes the cache on
// a genuine miss, sends the reply, appends the exchanged messages to
// history, merges extraction metadata, and persists the customer
// record. Delivery failure is reported to the caller but never loses
// the conversation; persistence failure aborts the run.
func (e *Engine) finalize(ctx context.Context, st RunState) (RunState, error) {
	// Cache writes happen only on a genuine miss, never on a hit, so
	// repeated hits cannot pollute the cache. Scripted qualification
	// questions are not cacheable answers.
	if st.Checkpoint != CheckpointCacheHit && !st.Scripted && st.Reply != "" && len(st.Embedding) > 0 {
		if err := e.store.SaveCachedResponse(st.Input, st.Embedding, st.Reply); err != nil {
			slog.Warn("Engine.finalize: cache write failed, continuing", "error", err, "phone", st.Phone)
		}
	}

	var deliveryID string
	var deliveryErr error
	if st.Reply != "" {
		id, err := e.sender.Send(ctx, st.Phone, st.Reply)
		if err != nil {
			slog.Error("Engine.finalize: send failed, persisting anyway", "error", err, "phone", st.Phone)
			deliveryErr = &models.DeliveryError{To: st.Phone, Err: err}
		} else {
			deliveryID = id
		}
	}

	now := time.Now()
	msgs := []models.Message{{
		Role:      models.RoleCustomer,
		Content:   st.Input,
		Timestamp: now,
		MediaURL:  st.MediaURL,
	}}
	if st.Reply != "" {
		msgs = append(msgs, models.Message{
			Role:       models.RoleAssistant,
			Content:    st.Reply,
			Timestamp:  now,
			DeliveryID: deliveryID,
		})
	}
	if err := e.store.AppendMessages(st.Phone, msgs); err != nil {
		slog.Error("Engine.finalize: history append failed", "error", err, "phone", st.Phone)
		return st, &models.PersistenceError{Phone: st.Phone, Err: err}
	}

	st.Customer = mergeMetadata(st)
	st.Customer.UpdatedAt = now
	if err := e.store.SaveCustomer(st.Customer); err != nil {
		slog.Error("Engine.finalize: customer save failed", "error", err, "phone", st.Phone)
		return st, &models.PersistenceError{Phone: st.Phone, Err: err}
	}

	st.Checkpoint = CheckpointDone
	return st, deliveryErr
}

// mergeMetadata folds the run's extraction output into the customer
// record's enrichment metadata.
func mergeMetadata(st RunState) models.Customer {
	c := st.Customer
	if c.Metadata == nil {
		c.Metadata = make(map[string]string)
	}

	if st.Intent.Intent != "" {
		c.Metadata[models.MetaLastIntent] = string(st.Intent.Intent)
	}
	if st.Intent.Budget > 0 {
		c.Budget = st.Intent.Budget
	}
	if raw, err := json.Marshal(st.Preferences); err == nil && string(raw) != "{}" {
		c.Metadata[models.MetaLastPreferences] = string(raw)
	}
	if st.Sentiment != "" {
		c.Metadata[models.MetaLastSentiment] = string(st.Sentiment)
	}
	if st.LeadSource != "" {
		c.Metadata[models.MetaLastSource] = string(st.LeadSource)
	}
	if len(st.Context) > 0 {
		if raw, err := json.Marshal(st.Context); err == nil {
			c.Metadata[models.MetaLastContext] = string(raw)
		}
	}
	if len(st.Preferences.Zones) > 0 && c.Zone == "" {
		c.Zone = st.Preferences.Zones[0]
	}

	if st.Qualification != nil {
		if raw, err := json.Marshal(st.Qualification); err == nil {
			c.Metadata[models.MetaQualification] = string(raw)
		}
	}
	if st.QualResult != nil {
		c.Metadata[models.MetaQualificationDone] = "true"
		c.Metadata[models.MetaLeadScore] = strconv.Itoa(st.QualResult.Normalized)
		c.Metadata[models.MetaLeadCategory] = string(st.QualResult.Category)
	}
	return c
}
