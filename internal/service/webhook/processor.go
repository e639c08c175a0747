package webhook

import (
	"context"
	stderrors "errors"

	"github.com/davidleathers/crm-dnc-relay/internal/domain/dnc"
	"github.com/davidleathers/crm-dnc-relay/internal/domain/errors"
	"github.com/davidleathers/crm-dnc-relay/internal/domain/values"
	"github.com/davidleathers/crm-dnc-relay/internal/service/credentials"
	"github.com/davidleathers/crm-dnc-relay/internal/service/crm"
	"github.com/davidleathers/crm-dnc-relay/internal/service/flagging"
	"go.uber.org/zap"
)

// Status is the processing outcome reported for a delivery.
type Status string

const (
	StatusCheckedClean        Status = "checked_clean"
	StatusFlagged             Status = "flagged"
	StatusFlagFailed          Status = "flag_failed"
	StatusSkippedTagged       Status = "skipped_tagged"
	StatusSkippedNoPhone      Status = "skipped_no_phone"
	StatusSkippedNoCredential Status = "skipped_no_credential"
	StatusDuplicate           Status = "duplicate"
	StatusIgnored             Status = "ignored"
	StatusInstalled           Status = "installed"
	StatusUninstalled         Status = "uninstalled"
)

// Outcome is the result of processing one event.
type Outcome struct {
	Status  Status           `json:"status"`
	Reason  string           `json:"reason,omitempty"`
	Verdict *dnc.Verdict     `json:"verdict,omitempty"`
	Flag    *flagging.Result `json:"flag,omitempty"`
}

// CredentialResolver hands out tenant tokens.
type CredentialResolver interface {
	GetValidToken(ctx context.Context, userID, locationID string) (string, error)
	Revoke(ctx context.Context, locationID string) (int64, error)
}

// ContactReader fetches a contact.
type ContactReader interface {
	GetContact(ctx context.Context, token, contactID string) (*crm.Contact, error)
}

// Checker produces a DNC verdict for a canonical phone.
type Checker interface {
	Check(ctx context.Context, phone string) (*dnc.Verdict, error)
}

// Flagger writes a verdict back to a contact.
type Flagger interface {
	Apply(ctx context.Context, token, contactID string, verdict *dnc.Verdict) flagging.Result
}

// Processor runs the check-and-flag flow for one event at a time. It keeps
// no state between events.
type Processor struct {
	credentials CredentialResolver
	contacts    ContactReader
	checker     Checker
	flagger     Flagger
	logger      *zap.Logger
}

// NewProcessor creates a webhook processor
func NewProcessor(resolver CredentialResolver, contacts ContactReader, checker Checker, flagger Flagger, logger *zap.Logger) (*Processor, error) {
	if resolver == nil {
		return nil, errors.NewValidationError("INVALID_CREDENTIAL_RESOLVER", "credential resolver cannot be nil")
	}
	if contacts == nil {
		return nil, errors.NewValidationError("INVALID_CONTACT_READER", "contact reader cannot be nil")
	}
	if checker == nil {
		return nil, errors.NewValidationError("INVALID_CHECKER", "dnc checker cannot be nil")
	}
	if flagger == nil {
		return nil, errors.NewValidationError("INVALID_FLAGGER", "flagger cannot be nil")
	}
	if logger == nil {
		return nil, errors.NewValidationError("INVALID_LOGGER", "logger cannot be nil")
	}
	return &Processor{
		credentials: resolver,
		contacts:    contacts,
		checker:     checker,
		flagger:     flagger,
		logger:      logger,
	}, nil
}

// contactTarget is what the flow needs to know about a contact.
type contactTarget struct {
	locationID string
	contactID  string
	phone      string
	tags       []string
}

// Process handles one event and reports its outcome. Failures degrade to a
// skip status; Process never returns an error.
func (p *Processor) Process(ctx context.Context, evt Event) Outcome {
	logger := p.logger.With(
		zap.String("event_type", string(evt.Type())),
		zap.String("location_id", evt.Location()),
		zap.String("webhook_id", evt.DeliveryID()),
	)

	var outcome Outcome
	switch e := evt.(type) {
	case *ContactCreateEvent:
		outcome = p.processInline(ctx, logger, e.ContactEvent)
	case *ContactUpdateEvent:
		outcome = p.processInline(ctx, logger, e.ContactEvent)
	case *InboundMessageEvent:
		outcome = p.processMessage(ctx, logger, e)
	case *AppInstallEvent:
		outcome = Outcome{Status: StatusInstalled}
	case *AppUninstallEvent:
		outcome = p.processUninstall(ctx, logger, e)
	default:
		outcome = Outcome{Status: StatusIgnored, Reason: "unsupported event"}
	}

	fields := []zap.Field{zap.String("status", string(outcome.Status))}
	if outcome.Reason != "" {
		fields = append(fields, zap.String("reason", outcome.Reason))
	}
	logger.Info("webhook processed", fields...)
	return outcome
}

func (p *Processor) processInline(ctx context.Context, logger *zap.Logger, e ContactEvent) Outcome {
	target := contactTarget{
		locationID: e.LocationID,
		contactID:  e.ContactID,
		phone:      e.Phone,
		tags:       e.Tags,
	}
	if outcome, done := precheck(target); done {
		return outcome
	}

	token, outcome, ok := p.resolveToken(ctx, logger, e.LocationID)
	if !ok {
		return outcome
	}
	return p.checkAndFlag(ctx, logger, token, target)
}

func (p *Processor) processMessage(ctx context.Context, logger *zap.Logger, e *InboundMessageEvent) Outcome {
	token, outcome, ok := p.resolveToken(ctx, logger, e.LocationID)
	if !ok {
		return outcome
	}

	contact, err := p.contacts.GetContact(ctx, token, e.ContactID)
	if err != nil {
		logger.Warn("failed to fetch contact for inbound message",
			zap.String("contact_id", e.ContactID),
			zap.Error(err),
		)
		if stderrors.Is(err, crm.ErrContactNotFound) {
			return Outcome{Status: StatusIgnored, Reason: "contact not found"}
		}
		return Outcome{Status: StatusSkippedNoPhone, Reason: "contact fetch failed"}
	}

	target := contactTarget{
		locationID: e.LocationID,
		contactID:  e.ContactID,
		phone:      contact.Phone,
		tags:       contact.Tags,
	}
	if outcome, done := precheck(target); done {
		return outcome
	}
	return p.checkAndFlag(ctx, logger, token, target)
}

// precheck applies the short-circuits that need no remote call.
func precheck(target contactTarget) (Outcome, bool) {
	if dnc.HasAllDNCTags(target.tags) {
		return Outcome{Status: StatusSkippedTagged}, true
	}
	if target.phone == "" {
		return Outcome{Status: StatusSkippedNoPhone}, true
	}
	return Outcome{}, false
}

func (p *Processor) resolveToken(ctx context.Context, logger *zap.Logger, locationID string) (string, Outcome, bool) {
	token, err := p.credentials.GetValidToken(ctx, "", locationID)
	if err != nil || token == "" {
		reason := "no stored credential"
		if err != nil && !stderrors.Is(err, credentials.ErrNoCredential) {
			reason = err.Error()
		}
		logger.Warn("no usable credential for location", zap.String("reason", reason))
		return "", Outcome{Status: StatusSkippedNoCredential, Reason: reason}, false
	}
	return token, Outcome{}, true
}

func (p *Processor) checkAndFlag(ctx context.Context, logger *zap.Logger, token string, target contactTarget) Outcome {
	phone, err := values.NewLenientPhoneNumber(target.phone)
	if err != nil {
		return Outcome{Status: StatusSkippedNoPhone, Reason: "phone has no digits"}
	}

	verdict, err := p.checker.Check(ctx, phone.String())
	if err != nil {
		logger.Warn("dnc check rejected phone",
			zap.String("phone", phone.Redacted()),
			zap.Error(err),
		)
		return Outcome{Status: StatusSkippedNoPhone, Reason: err.Error()}
	}
	if !verdict.Flagged() {
		return Outcome{Status: StatusCheckedClean, Verdict: verdict}
	}

	result := p.flagger.Apply(ctx, token, target.contactID, verdict)
	outcome := Outcome{Status: StatusFlagged, Verdict: verdict, Flag: &result}
	if !result.Success {
		outcome.Status = StatusFlagFailed
	}
	return outcome
}

func (p *Processor) processUninstall(ctx context.Context, logger *zap.Logger, e *AppUninstallEvent) Outcome {
	if _, err := p.credentials.Revoke(ctx, e.LocationID); err != nil {
		logger.Error("failed to remove credentials on uninstall", zap.Error(err))
		return Outcome{Status: StatusUninstalled, Reason: "credential cleanup failed"}
	}
	return Outcome{Status: StatusUninstalled}
}
