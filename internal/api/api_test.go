package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alberto591/ai-automation-agency-sub000/internal/messaging"
	"github.com/alberto591/ai-automation-agency-sub000/internal/models"
	"github.com/alberto591/ai-automation-agency-sub000/internal/store"
	"github.com/alberto591/ai-automation-agency-sub000/internal/twiliowhatsapp"
)

type mockRunner struct {
	lastInput models.InboundMessage
	reply     string
	err       error
}

func (m *mockRunner) Run(ctx context.Context, in models.InboundMessage) (string, error) {
	m.lastInput = in
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

type mockAI struct {
	embedErr error
}

func (m *mockAI) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", errors.New("not used")
}

func (m *mockAI) ExtractJSON(ctx context.Context, systemPrompt, userPrompt string, out any) error {
	return errors.New("not used")
}

func (m *mockAI) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	return []float32{1, 0, 0}, nil
}

func newTestServer() (*Server, *mockRunner, *store.InMemoryStore, *messaging.TwilioService) {
	runner := &mockRunner{reply: "Buongiorno!"}
	st := store.NewInMemoryStore()
	twilioSvc := messaging.NewTwilioService(twiliowhatsapp.NewMockClient())
	srv := NewServer(runner, st, &mockAI{}, twilioSvc, twilioSvc)
	return srv, runner, st, twilioSvc
}

func doJSON(t *testing.T, h http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body strings.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = *strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookMessage_Success(t *testing.T) {
	srv, runner, _, _ := newTestServer()

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/webhook/message",
		models.InboundMessage{Phone: "+39 333 123 4567", Text: "ciao, cerco casa"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	if runner.lastInput.Phone != "+393331234567" {
		t.Errorf("pipeline phone = %q, want canonicalized +393331234567", runner.lastInput.Phone)
	}

	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != string(models.APIStatusOK) {
		t.Errorf("status field = %q, want ok", resp.Status)
	}
}

func TestWebhookMessage_Validation(t *testing.T) {
	srv, _, _, _ := newTestServer()

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/webhook/message",
		models.InboundMessage{Phone: "+393331234567", Text: ""})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty text status = %d, want 400", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/webhook/message", strings.NewReader("{not json"))
	recRaw := httptest.NewRecorder()
	srv.Handler().ServeHTTP(recRaw, req)
	if recRaw.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON status = %d, want 400", recRaw.Code)
	}
}

func TestWebhookMessage_DeliveryFailure(t *testing.T) {
	srv, runner, _, _ := newTestServer()
	runner.err = &models.DeliveryError{To: "+393331234567", Err: errors.New("transport down")}

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/webhook/message",
		models.InboundMessage{Phone: "+393331234567", Text: "ciao"})
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502 for undelivered reply", rec.Code)
	}
}

func TestWebhookTwilio_InjectsResponse(t *testing.T) {
	srv, _, _, twilioSvc := newTestServer()

	form := url.Values{}
	form.Set("From", "whatsapp:+393331234567")
	form.Set("Body", "ciao")
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	select {
	case resp := <-twilioSvc.Responses():
		if resp.From != "+393331234567" || resp.Body != "ciao" {
			t.Errorf("injected response = %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("webhook message never surfaced on Responses()")
	}
}

func TestPauseAndResume(t *testing.T) {
	srv, _, st, _ := newTestServer()
	phone := "+393331234567"
	st.SaveCustomer(models.Customer{Phone: phone, Stage: models.StageActive, AIEnabled: true})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/customers/"+phone+"/pause", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pause status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	c, _ := st.GetCustomer(phone)
	if c.AIEnabled || c.Stage != models.StageHumanMode {
		t.Errorf("after pause: AIEnabled=%v Stage=%q, want false/human_mode", c.AIEnabled, c.Stage)
	}

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/customers/"+phone+"/resume", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resume status = %d, want 200", rec.Code)
	}
	c, _ = st.GetCustomer(phone)
	if !c.AIEnabled || c.Stage != models.StageActive {
		t.Errorf("after resume: AIEnabled=%v Stage=%q, want true/active", c.AIEnabled, c.Stage)
	}
}

func TestPause_UnknownCustomer(t *testing.T) {
	srv, _, _, _ := newTestServer()
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/customers/+390000000000/pause", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetCustomer(t *testing.T) {
	srv, _, st, _ := newTestServer()
	phone := "+393331234567"
	st.SaveCustomer(models.Customer{Phone: phone, Name: "Marco", Stage: models.StageActive, AIEnabled: true})
	st.AppendMessages(phone, []models.Message{{Role: models.RoleCustomer, Content: "ciao"}})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/customers/"+phone, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Marco") || !strings.Contains(rec.Body.String(), "ciao") {
		t.Errorf("body missing customer or history: %s", rec.Body.String())
	}

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/customers/+390000000000", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown customer status = %d, want 404", rec.Code)
	}
}

func TestAddProperty(t *testing.T) {
	srv, _, st, _ := newTestServer()

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/properties", models.Property{
		ID: "p1", Title: "Bilocale Navigli", Zone: "navigli", Price: 240000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", rec.Code, rec.Body.String())
	}

	matches, err := st.SearchProperties("", []float32{1, 0, 0}, models.PropertyFilters{})
	if err != nil {
		t.Fatalf("SearchProperties() error = %v", err)
	}
	if len(matches) != 1 || matches[0].Property.ID != "p1" {
		t.Errorf("stored catalog = %+v, want property p1", matches)
	}
	if matches[0].Similarity < 0.99 {
		t.Errorf("similarity = %v, want ~1 (embedding stored)", matches[0].Similarity)
	}

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/properties", models.Property{Title: "no id"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing id status = %d, want 400", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	srv, _, _, _ := newTestServer()
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
