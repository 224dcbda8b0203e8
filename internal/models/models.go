// Package models defines the core data structures for the sales agent.
//
// It includes the customer conversation record, the property catalog types,
// and the inbound/outbound payloads shared across modules.
package models

import (
	"errors"
	"time"
)

// JourneyStage tracks where a customer sits in the sales funnel.
type JourneyStage string

const (
	// StageActive is the default stage for a customer in conversation.
	StageActive JourneyStage = "active"
	// StageHot marks a customer whose qualification came back HOT.
	StageHot JourneyStage = "hot"
	// StageQualified marks a customer with a completed qualification.
	StageQualified JourneyStage = "qualified"
	// StageAppointmentRequested marks a customer who asked for a visit.
	StageAppointmentRequested JourneyStage = "appointment_requested"
	// StageScheduled marks a customer with a booked appointment.
	StageScheduled JourneyStage = "scheduled"
	// StageContractPending marks a customer in contract negotiation.
	StageContractPending JourneyStage = "contract_pending"
	// StageClosed marks a completed sale.
	StageClosed JourneyStage = "closed"
	// StageHumanMode marks a conversation taken over by a human agent.
	StageHumanMode JourneyStage = "human_mode"
	// StageArchived marks a conversation closed without a sale.
	StageArchived JourneyStage = "archived"
)

// IsValidJourneyStage checks if the given journey stage is supported.
func IsValidJourneyStage(s JourneyStage) bool {
	switch s {
	case StageActive, StageHot, StageQualified, StageAppointmentRequested,
		StageScheduled, StageContractPending, StageClosed, StageHumanMode, StageArchived:
		return true
	default:
		return false
	}
}

// Intent is the top-level intent detected in a customer message.
type Intent string

const (
	// IntentVisit means the customer wants to view a property.
	IntentVisit Intent = "visit"
	// IntentPurchase means the customer wants to buy.
	IntentPurchase Intent = "purchase"
	// IntentInfo means the customer is asking for information.
	IntentInfo Intent = "info"
	// IntentOther covers everything else.
	IntentOther Intent = "other"
)

// IsValidIntent checks if the given intent is supported.
func IsValidIntent(i Intent) bool {
	switch i {
	case IntentVisit, IntentPurchase, IntentInfo, IntentOther:
		return true
	default:
		return false
	}
}

// LeadSource identifies where a lead came from.
type LeadSource string

const (
	// SourceDirect is an organic inbound message with no known origin.
	SourceDirect LeadSource = "direct"
	// SourceWebsite is the agency website contact form.
	SourceWebsite LeadSource = "website"
	// SourceImmobiliare is the immobiliare.it listing portal.
	SourceImmobiliare LeadSource = "portal_immobiliare"
	// SourceIdealista is the idealista listing portal.
	SourceIdealista LeadSource = "portal_idealista"
	// SourceFacebook is a Facebook ad or page message.
	SourceFacebook LeadSource = "facebook"
	// SourceInstagram is an Instagram ad or profile message.
	SourceInstagram LeadSource = "instagram"
	// SourceReferral is a word-of-mouth referral.
	SourceReferral LeadSource = "referral"
	// SourceAppraisal is a home-valuation request.
	SourceAppraisal LeadSource = "appraisal"
)

// IsValidLeadSource checks if the given lead source is supported.
func IsValidLeadSource(s LeadSource) bool {
	switch s {
	case SourceDirect, SourceWebsite, SourceImmobiliare, SourceIdealista,
		SourceFacebook, SourceInstagram, SourceReferral, SourceAppraisal:
		return true
	default:
		return false
	}
}

// Sentiment is the detected emotional tone of a customer message.
type Sentiment string

const (
	SentimentPositive   Sentiment = "positive"
	SentimentNeutral    Sentiment = "neutral"
	SentimentNegative   Sentiment = "negative"
	SentimentFrustrated Sentiment = "frustrated"
)

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	// RoleCustomer is an inbound message from the customer.
	RoleCustomer MessageRole = "customer"
	// RoleAssistant is an outbound message from the agent.
	RoleAssistant MessageRole = "assistant"
)

// Message is a single entry in a customer's conversation history.
// History is append-only; existing entries are never mutated.
type Message struct {
	Role       MessageRole `json:"role"`
	Content    string      `json:"content"`
	Timestamp  time.Time   `json:"timestamp"`
	DeliveryID string      `json:"delivery_id,omitempty"`
	MediaURL   string      `json:"media_url,omitempty"`
}

// Metadata keys for the customer enrichment metadata map.
const (
	MetaLastIntent        = "last_intent"
	MetaLastPreferences   = "last_preferences"
	MetaLastSentiment     = "last_sentiment"
	MetaLastSource        = "last_source"
	MetaLastContext       = "last_context"
	MetaQualification     = "qualification"
	MetaQualificationDone = "qualification_done"
	MetaLeadScore         = "lead_score"
	MetaLeadCategory      = "lead_category"
)

// Customer is the per-phone conversation record. The phone number,
// canonicalized to digits only, is the primary key.
type Customer struct {
	Phone     string            `json:"phone"`
	Name      string            `json:"name,omitempty"`
	Stage     JourneyStage      `json:"stage"`
	AIEnabled bool              `json:"ai_enabled"`
	Budget    float64           `json:"budget,omitempty"`
	Zone      string            `json:"zone,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Property is a catalog entry the agent can offer to customers.
type Property struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Zone        string    `json:"zone"`
	Price       float64   `json:"price"`
	Bedrooms    int       `json:"bedrooms,omitempty"`
	SizeSqm     float64   `json:"size_sqm,omitempty"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PropertyMatch pairs a catalog property with its similarity to a query.
type PropertyMatch struct {
	Property   Property `json:"property"`
	Similarity float64  `json:"similarity"`
}

// PropertyFilters narrows a property search.
type PropertyFilters struct {
	MaxPrice float64 `json:"max_price,omitempty"`
	Zone     string  `json:"zone,omitempty"`
	Bedrooms int     `json:"bedrooms,omitempty"`
}

// MarketStats summarizes comparable pricing for a zone.
type MarketStats struct {
	Zone           string  `json:"zone"`
	AvgPrice       float64 `json:"avg_price"`
	AvgPricePerSqm float64 `json:"avg_price_per_sqm"`
	SampleSize     int     `json:"sample_size"`
}

// IsEmpty reports whether no comparable data was available.
func (m MarketStats) IsEmpty() bool {
	return m.SampleSize == 0
}

// IntentExtraction is the structured output of the intent stage.
type IntentExtraction struct {
	Intent   Intent   `json:"intent,omitempty"`
	Budget   float64  `json:"budget,omitempty"`
	Entities []string `json:"entities,omitempty"`
}

// Preferences is the structured output of the preference stage.
type Preferences struct {
	PropertyType string   `json:"property_type,omitempty"`
	Zones        []string `json:"zones,omitempty"`
	Bedrooms     int      `json:"bedrooms,omitempty"`
	MinSizeSqm   float64  `json:"min_size_sqm,omitempty"`
	Features     []string `json:"features,omitempty"`
}

// Validation errors for inbound payloads.
var (
	ErrEmptyPhone  = errors.New("phone cannot be empty")
	ErrEmptyText   = errors.New("text cannot be empty")
	ErrTextTooLong = errors.New("text exceeds maximum length")
	ErrBadSource   = errors.New("invalid lead source")
)

// MaxInboundTextLength bounds a single inbound message body.
const MaxInboundTextLength = 4096

// InboundMessage is the pipeline entry payload, received from the
// webhook or from the messaging transport.
type InboundMessage struct {
	Phone    string            `json:"phone"`
	Text     string            `json:"text"`
	Source   LeadSource        `json:"source,omitempty"`
	MediaURL string            `json:"media_url,omitempty"`
	Context  map[string]string `json:"context,omitempty"`
}

// Validate performs validation on an InboundMessage.
func (m *InboundMessage) Validate() error {
	if m.Phone == "" {
		return ErrEmptyPhone
	}
	if m.Text == "" {
		return ErrEmptyText
	}
	if len(m.Text) > MaxInboundTextLength {
		return ErrTextTooLong
	}
	if m.Source != "" && !IsValidLeadSource(m.Source) {
		return ErrBadSource
	}
	return nil
}

// Response represents an incoming message event from a transport.
type Response struct {
	From     string `json:"from"`
	Body     string `json:"body"`
	MediaURL string `json:"media_url,omitempty"`
	Time     int64  `json:"time"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse is the standard JSON envelope for the webhook API.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// ReplyResult is the webhook result payload for a pipeline run.
// An empty reply means no reply was issued (human-mode short-circuit).
type ReplyResult struct {
	Reply string `json:"reply"`
}
