// Package flagging writes DNC verdicts back to CRM contacts as tags and a
// do-not-disturb flag. Writes are additive: existing tags are never removed
// and DND is only ever switched on.
package flagging

import (
	"context"

	"github.com/davidleathers/crm-dnc-relay/internal/domain/dnc"
	"github.com/davidleathers/crm-dnc-relay/internal/domain/errors"
	"github.com/davidleathers/crm-dnc-relay/internal/service/crm"
	"go.uber.org/zap"
)

// ContactClient is the CRM surface the gateway needs.
type ContactClient interface {
	GetContact(ctx context.Context, token, contactID string) (*crm.Contact, error)
	UpdateContact(ctx context.Context, token, contactID string, update crm.ContactUpdate) error
}

// Result describes what Apply wrote.
type Result struct {
	TagsApplied []string `json:"tags_applied"`
	DNDSet      bool     `json:"dnd_set"`
	Success     bool     `json:"success"`
}

// Gateway applies verdicts to contacts.
type Gateway struct {
	client ContactClient
	logger *zap.Logger
}

// NewGateway creates a flagging gateway
func NewGateway(client ContactClient, logger *zap.Logger) (*Gateway, error) {
	if client == nil {
		return nil, errors.NewValidationError("INVALID_CONTACT_CLIENT", "contact client cannot be nil")
	}
	if logger == nil {
		return nil, errors.NewValidationError("INVALID_LOGGER", "logger cannot be nil")
	}
	return &Gateway{client: client, logger: logger}, nil
}

// Apply tags the contact for every list the verdict matched and enables DND
// on SMS and Call. A verdict with no match writes nothing.
func (g *Gateway) Apply(ctx context.Context, token, contactID string, verdict *dnc.Verdict) Result {
	additions := dnc.TagsForVerdict(verdict)
	if len(additions) == 0 {
		return Result{Success: true}
	}

	logger := g.logger.With(zap.String("contact_id", contactID))

	var current []string
	contact, err := g.client.GetContact(ctx, token, contactID)
	if err != nil {
		logger.Warn("failed to read contact tags, merging onto empty set", zap.Error(err))
	} else if contact != nil {
		current = contact.Tags
	}

	dnd := true
	update := crm.ContactUpdate{
		Tags: dnc.MergeTags(current, additions),
		DND:  &dnd,
		DNDSettings: map[string]crm.DNDSetting{
			crm.ChannelSMS:  {Status: crm.DNDStatusActive, Message: dnc.DNDMessage},
			crm.ChannelCall: {Status: crm.DNDStatusActive, Message: dnc.DNDMessage},
		},
	}

	if err := g.client.UpdateContact(ctx, token, contactID, update); err != nil {
		logger.Error("failed to flag contact",
			zap.Strings("tags", additions),
			zap.Error(err),
		)
		return Result{TagsApplied: additions, DNDSet: false, Success: false}
	}

	logger.Info("contact flagged", zap.Strings("tags", additions))
	return Result{TagsApplied: additions, DNDSet: true, Success: true}
}
