// Package messaging provides the outbound channel and inbound message
// plumbing between the WhatsApp transports and the conversation
// pipeline.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/alberto591/ai-automation-agency-sub000/internal/models"
)

// Constants for service configuration.
const (
	// DefaultChannelBufferSize is the buffer size for response channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds non-blocking channel operations.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service is stopped")

// phoneNumberRegex strips everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service is a pluggable message transport. It sends outbound messages
// and surfaces inbound customer messages on a channel.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a
	// recipient phone number.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage delivers a message and returns its delivery id.
	SendMessage(ctx context.Context, to string, body string) (string, error)

	// Start begins background processing (event polling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Responses returns a channel of incoming customer messages.
	Responses() <-chan models.Response
}

// canonicalizePhone strips formatting from a phone number and validates
// the remaining digits.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	if recipient != canonical {
		slog.Debug("Messaging canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}
