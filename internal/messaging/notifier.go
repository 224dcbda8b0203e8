package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alberto591/ai-automation-agency-sub000/internal/qualification"
)

// notifyTimeout bounds one hot-lead alert delivery.
const notifyTimeout = 10 * time.Second

// HotLeadNotifier pushes hot-lead alerts to the on-duty agent's
// WhatsApp number. Alerts are informational; a lost alert never fails
// the pipeline run that produced it.
type HotLeadNotifier struct {
	service    Service
	agentPhone string
}

// NewHotLeadNotifier creates a notifier targeting agentPhone.
func NewHotLeadNotifier(service Service, agentPhone string) *HotLeadNotifier {
	return &HotLeadNotifier{service: service, agentPhone: agentPhone}
}

// NotifyHotLead sends the alert. Failures are logged and dropped.
func (n *HotLeadNotifier) NotifyHotLead(phone string, result qualification.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	body := fmt.Sprintf("HOT lead %s: score %d/10. %s", phone, result.Normalized, result.RecommendedAction)
	if _, err := n.service.SendMessage(ctx, n.agentPhone, body); err != nil {
		slog.Warn("HotLeadNotifier.NotifyHotLead: alert delivery failed",
			"error", err, "lead", phone, "agent", n.agentPhone)
		return
	}
	slog.Info("HotLeadNotifier.NotifyHotLead: agent alerted", "lead", phone, "category", result.Category)
}
