package crm

// Contact is the subset of a CRM contact the relay reads.
type Contact struct {
	ID          string                `json:"id"`
	LocationID  string                `json:"locationId,omitempty"`
	Phone       string                `json:"phone,omitempty"`
	Tags        []string              `json:"tags,omitempty"`
	DND         bool                  `json:"dnd,omitempty"`
	DNDSettings map[string]DNDSetting `json:"dndSettings,omitempty"`
}

// DNDSetting is the per-channel do-not-disturb state.
type DNDSetting struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ContactUpdate is the partial update written back to a contact. Nil and
// empty fields are omitted so the CRM leaves them unchanged.
type ContactUpdate struct {
	Tags        []string              `json:"tags,omitempty"`
	DND         *bool                 `json:"dnd,omitempty"`
	DNDSettings map[string]DNDSetting `json:"dndSettings,omitempty"`
}

// DND channels and statuses understood by the CRM.
const (
	ChannelSMS  = "SMS"
	ChannelCall = "Call"

	DNDStatusActive = "active"
)

type contactEnvelope struct {
	Contact *Contact `json:"contact"`
}
