package eventmanager

import (
	"github.com/google/uuid"

	"github.com/aura-booking/backend/internal/integrations"
	"github.com/aura-booking/backend/internal/models"
)

// Operation names recorded on results.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// EventResult is the outcome of one integration call. Failures are data, not errors.
type EventResult struct {
	Type               string                      `json:"type"`
	AppName            string                      `json:"app_name"`
	Operation          string                      `json:"operation"`
	Success            bool                        `json:"success"`
	UID                string                      `json:"uid,omitempty"`
	ICalUID            string                      `json:"ical_uid,omitempty"`
	CreatedEvent       *integrations.ProviderEvent `json:"created_event,omitempty"`
	UpdatedEvents      []integrations.ProviderEvent `json:"updated_events,omitempty"`
	CredentialID       *uuid.UUID                  `json:"credential_id,omitempty"`
	ExternalCalendarID string                      `json:"external_calendar_id,omitempty"`
	Error              string                      `json:"error,omitempty"`

	// original is the reference an update or delete acted on.
	original *models.PartialReference
}

func (r EventResult) event() *integrations.ProviderEvent {
	if r.CreatedEvent != nil {
		return r.CreatedEvent
	}
	if len(r.UpdatedEvents) > 0 {
		return &r.UpdatedEvents[0]
	}
	return nil
}

// CreateUpdateResult is what create, reschedule and update operations return.
type CreateUpdateResult struct {
	Results            []EventResult             `json:"results"`
	ReferencesToCreate []models.PartialReference `json:"references"`
}

// AllFailed reports whether integrations were called and none succeeded.
func (r CreateUpdateResult) AllFailed() bool {
	if len(r.Results) == 0 {
		return false
	}
	for _, res := range r.Results {
		if res.Success {
			return false
		}
	}
	return true
}

// Failed returns the unsuccessful results.
func (r CreateUpdateResult) Failed() []EventResult {
	var out []EventResult
	for _, res := range r.Results {
		if !res.Success {
			out = append(out, res)
		}
	}
	return out
}

// BuildReferences turns results into the references to persist. Successful creates and updates
// yield fresh references; an update or delete that did not go through keeps the reference it
// acted on, since its external event is still live. Successful deletes yield nothing.
func BuildReferences(results []EventResult) []models.PartialReference {
	refs := make([]models.PartialReference, 0, len(results))
	for _, r := range results {
		if r.Operation == OpDelete {
			if !r.Success && r.original != nil {
				refs = append(refs, *r.original)
			}
			continue
		}
		if !r.Success {
			if r.original != nil {
				refs = append(refs, *r.original)
			}
			continue
		}
		pe := r.event()
		if pe == nil {
			continue
		}
		ref := models.PartialReference{
			Type:               r.Type,
			UID:                r.UID,
			MeetingPassword:    pe.Password,
			MeetingURL:         pe.URL,
			ExternalCalendarID: r.ExternalCalendarID,
			CredentialID:       r.CredentialID,
		}
		if models.IsVideoType(r.Type) {
			ref.MeetingID = pe.ID
		}
		if r.original != nil {
			if ref.MeetingURL == "" {
				ref.MeetingURL = r.original.MeetingURL
			}
			if ref.MeetingPassword == "" {
				ref.MeetingPassword = r.original.MeetingPassword
			}
			if ref.ExternalCalendarID == "" {
				ref.ExternalCalendarID = r.original.ExternalCalendarID
			}
		}
		refs = append(refs, ref)
	}
	return refs
}
