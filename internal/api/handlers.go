package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alberto591/ai-automation-agency-sub000/internal/models"
)

// webhookMessageHandler is the pipeline entry point for inbound leads
// posted by external integrations (website forms, portals, CRM).
func (s *Server) webhookMessageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.webhookMessageHandler: processing inbound message", "path", r.URL.Path)

	var in models.InboundMessage
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		slog.Warn("Server.webhookMessageHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	canonical, err := s.msgService.ValidateAndCanonicalizeRecipient(in.Phone)
	if err != nil {
		slog.Warn("Server.webhookMessageHandler: recipient validation failed", "error", err, "original", in.Phone)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	in.Phone = "+" + canonical

	if err := in.Validate(); err != nil {
		slog.Warn("Server.webhookMessageHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DefaultRequestTimeout)
	defer cancel()

	reply, err := s.engine.Run(ctx, in)
	if err != nil {
		var dErr *models.DeliveryError
		if errors.As(err, &dErr) {
			slog.Error("Server.webhookMessageHandler: reply computed but not delivered", "error", err, "phone", in.Phone)
			writeJSONResponse(w, http.StatusBadGateway, models.Error("Reply could not be delivered"))
			return
		}
		slog.Error("Server.webhookMessageHandler: pipeline run failed", "error", err, "phone", in.Phone)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}

	slog.Info("Server.webhookMessageHandler: message processed", "phone", in.Phone, "replied", reply != "")
	writeJSONResponse(w, http.StatusOK, models.Success(models.ReplyResult{Reply: reply}))
}

// webhookTwilioHandler accepts Twilio's form-encoded inbound message
// callbacks and injects them into the messaging service.
func (s *Server) webhookTwilioHandler(w http.ResponseWriter, r *http.Request) {
	if s.twilioSvc == nil {
		writeJSONResponse(w, http.StatusNotImplemented, models.Error("Twilio transport not configured"))
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.webhookTwilioHandler: failed to parse form", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid form payload"))
		return
	}

	from := strings.TrimPrefix(r.PostFormValue("From"), "whatsapp:")
	body := r.PostFormValue("Body")
	if from == "" || body == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing From or Body"))
		return
	}

	s.twilioSvc.AcceptIncoming(models.Response{
		From:     from,
		Body:     body,
		MediaURL: r.PostFormValue("MediaUrl0"),
		Time:     time.Now().Unix(),
	})
	w.WriteHeader(http.StatusNoContent)
}

// pauseHandler disables the AI for a customer: human takeover.
func (s *Server) pauseHandler(w http.ResponseWriter, r *http.Request) {
	s.setAIEnabled(w, r, false)
}

// resumeHandler re-enables the AI. This is the only path that flips a
// disabled flag back on.
func (s *Server) resumeHandler(w http.ResponseWriter, r *http.Request) {
	s.setAIEnabled(w, r, true)
}

func (s *Server) setAIEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	phone := r.PathValue("phone")
	canonical, err := s.msgService.ValidateAndCanonicalizeRecipient(phone)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	phone = "+" + canonical

	customer, err := s.store.GetCustomer(phone)
	if err != nil {
		slog.Error("Server.setAIEnabled: customer load failed", "error", err, "phone", phone)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load customer"))
		return
	}
	if customer == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Customer not found"))
		return
	}

	customer.AIEnabled = enabled
	if enabled {
		customer.Stage = models.StageActive
	} else {
		customer.Stage = models.StageHumanMode
	}
	if err := s.store.SaveCustomer(*customer); err != nil {
		slog.Error("Server.setAIEnabled: customer save failed", "error", err, "phone", phone)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save customer"))
		return
	}

	slog.Info("Server.setAIEnabled: AI flag updated", "phone", phone, "enabled", enabled)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Customer updated", customer))
}

// getCustomerHandler returns the customer record with recent history.
func (s *Server) getCustomerHandler(w http.ResponseWriter, r *http.Request) {
	phone := r.PathValue("phone")
	canonical, err := s.msgService.ValidateAndCanonicalizeRecipient(phone)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	phone = "+" + canonical

	customer, err := s.store.GetCustomer(phone)
	if err != nil {
		slog.Error("Server.getCustomerHandler: customer load failed", "error", err, "phone", phone)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load customer"))
		return
	}
	if customer == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Customer not found"))
		return
	}

	history, err := s.store.GetMessages(phone, 0)
	if err != nil {
		slog.Warn("Server.getCustomerHandler: history load failed", "error", err, "phone", phone)
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"customer": customer,
		"messages": history,
	}))
}

// addPropertyHandler inserts a catalog property, embedding its text
// for similarity search. A failed embedding still stores the listing;
// it just will not rank semantically.
func (s *Server) addPropertyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var p models.Property
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if p.ID == "" || p.Title == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required fields: id, title"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DefaultRequestTimeout)
	defer cancel()

	embedding, err := s.ai.Embed(ctx, p.Title+"\n"+p.Description)
	if err != nil {
		slog.Warn("Server.addPropertyHandler: embedding failed, storing without", "error", err, "id", p.ID)
		embedding = nil
	}
	if err := s.store.AddProperty(p, embedding); err != nil {
		slog.Error("Server.addPropertyHandler: store failed", "error", err, "id", p.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to store property"))
		return
	}

	slog.Info("Server.addPropertyHandler: property stored", "id", p.ID, "zone", p.Zone)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Property stored", nil))
}

// healthHandler reports liveness.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "ok"}))
}
