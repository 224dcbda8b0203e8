package messaging

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/alberto591/ai-automation-agency-sub000/internal/models"
	"github.com/alberto591/ai-automation-agency-sub000/internal/store"
)

// DefaultFollowUpIdle is how long an active lead may sit untouched
// before the follow-up job nudges them.
const DefaultFollowUpIdle = 48 * time.Hour

// followUpRunTimeout bounds one sweep over the stale leads.
const followUpRunTimeout = 5 * time.Minute

var followUpMessages = map[string]string{
	"it": "Ciao! Volevo sapere se stai ancora cercando casa. Posso proporti qualche novita appena arriva sul mercato. Scrivimi pure quando vuoi!",
	"en": "Hi! Just checking in to see if you are still looking for a property. I can send you new listings as soon as they hit the market. Message me anytime!",
}

// FollowUp re-engages active leads that have gone quiet. It is driven
// by the cron scheduler and sends one nudge per stale lead per sweep;
// saving the customer bumps its timestamp, so a lead is not nudged
// again until it goes stale a second time.
type FollowUp struct {
	store    store.Store
	outbound *Outbound
	idle     time.Duration
}

// NewFollowUp creates a follow-up job. idle <= 0 uses DefaultFollowUpIdle.
func NewFollowUp(st store.Store, outbound *Outbound, idle time.Duration) *FollowUp {
	if idle <= 0 {
		idle = DefaultFollowUpIdle
	}
	return &FollowUp{store: st, outbound: outbound, idle: idle}
}

// Run performs one sweep. Per-lead failures are logged and skipped so
// one broken number never blocks the rest of the batch.
func (f *FollowUp) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), followUpRunTimeout)
	defer cancel()

	cutoff := time.Now().Add(-f.idle)
	stale, err := f.store.StaleCustomers(cutoff)
	if err != nil {
		slog.Error("FollowUp.Run: stale customer lookup failed", "error", err)
		return
	}
	if len(stale) == 0 {
		slog.Debug("FollowUp.Run: no stale leads")
		return
	}
	slog.Info("FollowUp.Run: sweeping stale leads", "count", len(stale), "cutoff", cutoff)

	for _, c := range stale {
		if err := f.nudge(ctx, c); err != nil {
			slog.Warn("FollowUp.Run: nudge failed", "error", err, "phone", c.Phone)
		}
	}
}

func (f *FollowUp) nudge(ctx context.Context, c models.Customer) error {
	body := followUpMessages[followUpLanguage(c.Phone)]
	deliveryID, err := f.outbound.Send(ctx, c.Phone, body)
	if err != nil {
		return err
	}
	if err := f.store.AppendMessages(c.Phone, []models.Message{{
		Role:       models.RoleAssistant,
		Content:    body,
		Timestamp:  time.Now(),
		DeliveryID: deliveryID,
	}}); err != nil {
		return err
	}
	c.UpdatedAt = time.Now()
	return f.store.SaveCustomer(c)
}

// followUpLanguage picks the nudge language from the country prefix.
func followUpLanguage(phone string) string {
	if strings.HasPrefix(phone, "+39") || strings.HasPrefix(phone, "39") {
		return "it"
	}
	return "en"
}
