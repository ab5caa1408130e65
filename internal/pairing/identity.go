package pairing

import (
	"strings"

	"github.com/richardliu001/doubles-registration/internal/model"
)

// Actor is the identity performing an operation.
type Actor struct {
	UserID  string
	Contact string
	Staff   bool
}

func NormalizeContact(c string) string { return strings.ToLower(strings.TrimSpace(c)) }

// IsInvitee reports whether the actor is the identity the partner slot was offered to.
func IsInvitee(slot *model.PairingSlot, a Actor) bool {
	if slot == nil {
		return false
	}
	if a.UserID != "" {
		if slot.InvitedUserID != nil && *slot.InvitedUserID == a.UserID {
			return true
		}
		if slot.ProfileID != nil && *slot.ProfileID == a.UserID {
			return true
		}
	}
	if a.Contact != "" && slot.InvitedContact != nil {
		return strings.EqualFold(NormalizeContact(*slot.InvitedContact), NormalizeContact(a.Contact))
	}
	return false
}

// IsOccupant reports whether the actor currently holds the slot.
func IsOccupant(slot *model.PairingSlot, a Actor) bool {
	return slot != nil && slot.Filled() && slot.ProfileID != nil && a.UserID != "" && *slot.ProfileID == a.UserID
}
