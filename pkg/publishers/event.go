package publishers

import (
	"strconv"
	"time"

	"github.com/pharmacie-hq/pharmacie-inventory/pkg/pharmacie"
)

// Inventory change event types.
const (
	EventCreated  = "medicament.created"
	EventReplaced = "medicament.replaced"
	EventPatched  = "medicament.patched"
	EventDeleted  = "medicament.deleted"
)

// Event represents the payload published downstream after an inventory change.
// Reference is zero when the server did not reveal the identifier.
type Event struct {
	Type       string               `json:"type"`
	Reference  int64                `json:"reference,omitempty"`
	Medicament pharmacie.Medication `json:"medicament,omitempty"`
	OccurredAt time.Time            `json:"occurred_at"`
}

// NewEvent constructs an Event for the given change.
func NewEvent(typ string, reference int64, m pharmacie.Medication) Event {
	return Event{
		Type:       typ,
		Reference:  reference,
		Medicament: m,
		OccurredAt: time.Now().UTC(),
	}
}

// Attributes returns the routing attributes attached to queued messages.
func (e Event) Attributes() map[string]string {
	attrs := map[string]string{"event_type": e.Type}
	if e.Reference != 0 {
		attrs["reference"] = strconv.FormatInt(e.Reference, 10)
	}
	return attrs
}
