package messaging

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/alberto591/ai-automation-agency-sub000/internal/models"
	"github.com/alberto591/ai-automation-agency-sub000/internal/whatsapp"
)

// WhatsAppService implements Service using the Whatsmeow-based client.
type WhatsAppService struct {
	client    whatsapp.Sender
	waClient  *whatsapp.Client // nil when constructed with a mock
	responses chan models.Response
	done      chan struct{}
}

// NewWhatsAppService creates a WhatsAppService wrapping the given sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		client:    client,
		responses: make(chan models.Response, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return service
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a
// WhatsApp phone number.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start registers the event handler feeding inbound messages into the
// responses channel.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil {
		slog.Debug("WhatsAppService no full client available, skipping event handling")
		return nil
	}
	go s.handleEvents(ctx)
	slog.Debug("WhatsAppService event handler started")
	return nil
}

// Stop stops background processing.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked")
	close(s.done)
	close(s.responses)
	if s.waClient != nil {
		s.waClient.Disconnect()
	}
	return nil
}

// SendMessage sends a message and returns its delivery id.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) (string, error) {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendMessage validation error", "error", err, "to", to)
		return "", err
	}
	id, err := s.client.SendMessage(ctx, canonicalTo, body)
	if err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", canonicalTo)
		return "", err
	}
	slog.Info("WhatsAppService message sent", "to", canonicalTo, "delivery_id", id)
	return id, nil
}

// Responses returns the channel of incoming customer messages.
func (s *WhatsAppService) Responses() <-chan models.Response {
	return s.responses
}

// handleEvents feeds incoming WhatsApp messages into the responses
// channel until the context is cancelled.
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		if msg, ok := evt.(*events.Message); ok {
			s.handleIncomingMessage(msg)
		}
	})
	slog.Debug("WhatsAppService event handler registered")

	<-ctx.Done()
	slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
}

// handleIncomingMessage forwards incoming text messages as responses.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}

	var messageText string
	if evt.Message.Conversation != nil {
		messageText = *evt.Message.Conversation
	} else if evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil {
		messageText = *evt.Message.ExtendedTextMessage.Text
	} else {
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	fromNumber := evt.Info.Sender.User
	if !strings.HasPrefix(fromNumber, "+") {
		fromNumber = "+" + fromNumber
	}

	response := models.Response{
		From: fromNumber,
		Body: messageText,
		Time: evt.Info.Timestamp.Unix(),
	}

	select {
	case s.responses <- response:
		slog.Debug("WhatsAppService incoming message forwarded", "from", response.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService responses channel blocked, dropping message",
			"from", response.From, "timeout", DefaultChannelTimeout)
	}
}
