// Package webhook decodes CRM webhook deliveries into typed events and runs
// the DNC check-and-flag flow for the ones that concern a contact.
package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/davidleathers/crm-dnc-relay/internal/domain/errors"
	"github.com/go-playground/validator/v10"
)

// EventType is the CRM webhook "type" discriminator.
type EventType string

const (
	EventContactCreate  EventType = "ContactCreate"
	EventContactUpdate  EventType = "ContactUpdate"
	EventInboundMessage EventType = "InboundMessage"
	EventAppInstall     EventType = "INSTALL"
	EventAppUninstall   EventType = "UNINSTALL"
)

// Error codes returned by ParseEvent.
const (
	CodeMalformedEvent   = "MALFORMED_EVENT"
	CodeUnsupportedEvent = "UNSUPPORTED_EVENT_TYPE"
	CodeInvalidEvent     = "INVALID_EVENT"
)

// Event is one decoded webhook delivery. The set of implementations is
// closed; switch on the concrete type.
type Event interface {
	Type() EventType
	Location() string
	DeliveryID() string
	event()
}

// Envelope carries the fields common to every delivery.
type Envelope struct {
	EventType  EventType `json:"type"`
	LocationID string    `json:"locationId" validate:"required"`
	WebhookID  string    `json:"webhookId,omitempty"`
}

func (e Envelope) Type() EventType    { return e.EventType }
func (e Envelope) Location() string   { return e.LocationID }
func (e Envelope) DeliveryID() string { return e.WebhookID }
func (Envelope) event()               {}

// ContactEvent is a contact create or update. Phone and tags are inline.
type ContactEvent struct {
	Envelope
	ContactID string   `json:"id" validate:"required"`
	Phone     string   `json:"phone,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// ContactCreateEvent is delivered when a contact is created.
type ContactCreateEvent struct {
	ContactEvent
}

// ContactUpdateEvent is delivered when a contact changes.
type ContactUpdateEvent struct {
	ContactEvent
}

// InboundMessageEvent is delivered for an inbound message. The contact's
// phone and tags must be fetched.
type InboundMessageEvent struct {
	Envelope
	ContactID   string `json:"contactId" validate:"required"`
	MessageType string `json:"messageType,omitempty"`
}

// AppInstallEvent is delivered when a location installs the app.
type AppInstallEvent struct {
	Envelope
	CompanyID string `json:"companyId,omitempty"`
	UserID    string `json:"userId,omitempty"`
}

// AppUninstallEvent is delivered when a location removes the app.
type AppUninstallEvent struct {
	Envelope
	CompanyID string `json:"companyId,omitempty"`
}

var validate = validator.New()

// ParseEvent decodes and validates a webhook body.
func ParseEvent(body []byte) (Event, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return nil, errors.NewValidationError(CodeMalformedEvent, "webhook body is not valid JSON").WithCause(err)
	}

	var evt Event
	switch head.Type {
	case EventContactCreate:
		evt = &ContactCreateEvent{}
	case EventContactUpdate:
		evt = &ContactUpdateEvent{}
	case EventInboundMessage:
		evt = &InboundMessageEvent{}
	case EventAppInstall:
		evt = &AppInstallEvent{}
	case EventAppUninstall:
		evt = &AppUninstallEvent{}
	case "":
		return nil, errors.NewValidationError(CodeInvalidEvent, "webhook body has no type")
	default:
		return nil, errors.NewValidationError(CodeUnsupportedEvent, fmt.Sprintf("unsupported event type %q", head.Type))
	}

	if err := json.Unmarshal(body, evt); err != nil {
		return nil, errors.NewValidationError(CodeMalformedEvent, "webhook body does not match its type").WithCause(err)
	}
	if err := validate.Struct(evt); err != nil {
		return nil, errors.NewValidationError(CodeInvalidEvent, describeValidation(err)).WithCause(err)
	}
	return evt, nil
}

func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return "missing required fields: " + strings.Join(fields, ", ")
}
