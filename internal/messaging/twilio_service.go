package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alberto591/ai-automation-agency-sub000/internal/models"
	"github.com/alberto591/ai-automation-agency-sub000/internal/twiliowhatsapp"
)

// TwilioService implements Service using the Twilio API. Inbound
// messages arrive through the webhook, which injects them with
// AcceptIncoming.
type TwilioService struct {
	client    twiliowhatsapp.Sender
	responses chan models.Response
	done      chan struct{}
	mu        sync.RWMutex
	stopped   bool
}

// NewTwilioService creates a TwilioService wrapping the given sender.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		client:    client,
		responses: make(chan models.Response, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a
// WhatsApp phone number.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start is a no-op for Twilio; inbound traffic comes via the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.responses)
	}()
	return nil
}

// SendMessage sends a message via Twilio and returns the message SID.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) (string, error) {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return "", ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return "", err
	}

	sid, err := s.client.SendMessage(ctx, "+"+canonicalTo, body)
	if err != nil {
		return "", err
	}
	slog.Info("TwilioService message sent", "to", canonicalTo, "sid", sid)
	return sid, nil
}

// Responses returns the channel of incoming customer messages.
func (s *TwilioService) Responses() <-chan models.Response {
	return s.responses
}

// AcceptIncoming injects a webhook-received message into the responses
// channel. Dropped with a warning when the channel is full.
func (s *TwilioService) AcceptIncoming(resp models.Response) {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return
	}
	s.mu.RUnlock()

	select {
	case s.responses <- resp:
		slog.Debug("TwilioService incoming message accepted", "from", resp.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService responses channel blocked, dropping message",
			"from", resp.From, "timeout", DefaultChannelTimeout)
	}
}
