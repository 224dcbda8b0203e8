package messaging

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alberto591/ai-automation-agency-sub000/internal/models"
	"github.com/alberto591/ai-automation-agency-sub000/internal/qualification"
	"github.com/alberto591/ai-automation-agency-sub000/internal/store"
)

// mockService is a Service with an injectable inbound channel and
// recorded sends.
type mockService struct {
	mu        sync.Mutex
	sent      []string
	sendErr   error
	responses chan models.Response
}

func newMockService() *mockService {
	return &mockService{responses: make(chan models.Response, DefaultChannelBufferSize)}
}

func (m *mockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

func (m *mockService) SendMessage(ctx context.Context, to string, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.sent = append(m.sent, to+": "+body)
	return "mock-1", nil
}

func (m *mockService) Start(ctx context.Context) error { return nil }
func (m *mockService) Stop() error                     { return nil }

func (m *mockService) Responses() <-chan models.Response { return m.responses }

func (m *mockService) sentMessages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

// orderRunner records processed texts per phone.
type orderRunner struct {
	mu    sync.Mutex
	seen  map[string][]string
	done  chan struct{}
	total int
	want  int
}

func newOrderRunner(want int) *orderRunner {
	return &orderRunner{seen: make(map[string][]string), done: make(chan struct{}), want: want}
}

func (r *orderRunner) Run(ctx context.Context, in models.InboundMessage) (string, error) {
	// Simulate pipeline latency so queued messages pile up.
	time.Sleep(5 * time.Millisecond)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[in.Phone] = append(r.seen[in.Phone], in.Text)
	r.total++
	if r.total == r.want {
		close(r.done)
	}
	return "ok", nil
}

func TestHandler_PreservesPerPhoneOrder(t *testing.T) {
	svc := newMockService()
	runner := newOrderRunner(6)
	h := NewHandler(svc, runner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx)

	for i, text := range []string{"a1", "b1", "a2", "b2", "a3", "b3"} {
		phone := "+391111111111"
		if i%2 == 1 {
			phone = "+392222222222"
		}
		svc.responses <- models.Response{From: phone, Body: text}
	}

	select {
	case <-runner.done:
	case <-time.After(2 * time.Second):
		t.Fatal("messages never drained")
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	gotA := strings.Join(runner.seen["+391111111111"], ",")
	if gotA != "a1,a2,a3" {
		t.Errorf("phone A order = %q, want a1,a2,a3", gotA)
	}
	gotB := strings.Join(runner.seen["+392222222222"], ",")
	if gotB != "b1,b2,b3" {
		t.Errorf("phone B order = %q, want b1,b2,b3", gotB)
	}
}

func TestRateLimiter_AllowWithinWindow(t *testing.T) {
	rl := NewRateLimiter(2)
	phone := "+393331234567"

	if !rl.Allow(phone) || !rl.Allow(phone) {
		t.Fatal("first two sends should be allowed")
	}
	if rl.Allow(phone) {
		t.Error("third send inside the window should be rejected")
	}
	// Another phone has its own budget.
	if !rl.Allow("+390000000000") {
		t.Error("independent phone should not share the window")
	}
}

func TestOutbound_SendReturnsDeliveryID(t *testing.T) {
	svc := newMockService()
	out := NewOutbound(svc, NewRateLimiter(DefaultOutboundPerMinute))

	id, err := out.Send(context.Background(), "+393331234567", "ciao")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if id != "mock-1" {
		t.Errorf("delivery id = %q, want mock-1", id)
	}
	if len(svc.sentMessages()) != 1 {
		t.Errorf("sent = %d messages, want 1", len(svc.sentMessages()))
	}
}

func TestTwilioService_AcceptIncoming(t *testing.T) {
	svc := NewTwilioService(nil)
	svc.AcceptIncoming(models.Response{From: "+393331234567", Body: "ciao"})

	select {
	case resp := <-svc.Responses():
		if resp.Body != "ciao" {
			t.Errorf("Body = %q, want ciao", resp.Body)
		}
	case <-time.After(time.Second):
		t.Fatal("injected message never surfaced on Responses()")
	}
}

func TestTwilioService_SendAfterStop(t *testing.T) {
	svc := NewTwilioService(nil)
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if _, err := svc.SendMessage(context.Background(), "+393331234567", "ciao"); err != ErrServiceStopped {
		t.Errorf("SendMessage after stop error = %v, want ErrServiceStopped", err)
	}
}

func TestHotLeadNotifier_FormatsAlert(t *testing.T) {
	svc := newMockService()
	n := NewHotLeadNotifier(svc, "+390000000001")

	n.NotifyHotLead("+393331234567", qualification.Result{
		Normalized:        10,
		Category:          qualification.CategoryHot,
		RecommendedAction: "Call the lead within 5 minutes and propose two viewing slots.",
	})

	sent := svc.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("sent = %d messages, want 1", len(sent))
	}
	if !strings.Contains(sent[0], "HOT lead +393331234567") || !strings.Contains(sent[0], "5 minutes") {
		t.Errorf("alert = %q, want lead phone and callback window", sent[0])
	}
}

func TestCanonicalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+39 333 123 4567", "393331234567", false},
		{"(39) 333-1234567", "393331234567", false},
		{"", "", true},
		{"abc", "", true},
		{"12345", "", true},
	}
	for _, tt := range tests {
		got, err := canonicalizePhone(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("canonicalizePhone(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("canonicalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFollowUp_NudgesOnlyStaleActiveLeads(t *testing.T) {
	st := store.NewInMemoryStore()
	staleAt := time.Now().Add(-72 * time.Hour)
	for _, c := range []models.Customer{
		{Phone: "+393331234567", Stage: models.StageActive, AIEnabled: true, UpdatedAt: staleAt},
		{Phone: "+14155550123", Stage: models.StageActive, AIEnabled: true, UpdatedAt: time.Now()},
		{Phone: "+393339999999", Stage: models.StageActive, AIEnabled: false, UpdatedAt: staleAt},
		{Phone: "+393338888888", Stage: models.StageArchived, AIEnabled: true, UpdatedAt: staleAt},
	} {
		if err := st.SaveCustomer(c); err != nil {
			t.Fatalf("SaveCustomer() error = %v", err)
		}
	}

	svc := newMockService()
	f := NewFollowUp(st, NewOutbound(svc, nil), 48*time.Hour)
	f.Run()

	sent := svc.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("sent = %d messages, want 1: %v", len(sent), sent)
	}
	if !strings.HasPrefix(sent[0], "+393331234567:") {
		t.Errorf("nudge went to %q, want the stale lead", sent[0])
	}
	if !strings.Contains(sent[0], "cercando casa") {
		t.Errorf("nudge = %q, want the Italian template for a +39 number", sent[0])
	}

	history, err := st.GetMessages("+393331234567", 0)
	if err != nil {
		t.Fatalf("GetMessages() error = %v", err)
	}
	if len(history) != 1 || history[0].Role != models.RoleAssistant || history[0].DeliveryID != "mock-1" {
		t.Fatalf("history = %+v, want one assistant message with a delivery id", history)
	}

	// The nudge refreshed the customer, so a second sweep stays quiet.
	f.Run()
	if got := len(svc.sentMessages()); got != 1 {
		t.Errorf("after second sweep sent = %d messages, want still 1", got)
	}
}

func TestFollowUpLanguage(t *testing.T) {
	if got := followUpLanguage("+393331234567"); got != "it" {
		t.Errorf("followUpLanguage(+39...) = %q, want it", got)
	}
	if got := followUpLanguage("+14155550123"); got != "en" {
		t.Errorf("followUpLanguage(+1...) = %q, want en", got)
	}
}
