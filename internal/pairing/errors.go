package pairing

import "errors"

// Kind classifies a business error for callers that need to react to it (HTTP status, retry policy).
type Kind int

const (
	KindConflict Kind = iota + 1
	KindNotFound
	KindForbidden
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindInvalid:
		return "invalid"
	}
	return "unknown"
}

// Error is a typed business-rule rejection. It is returned, never panicked.
type Error struct {
	Kind Kind
	Code string
}

func (e *Error) Error() string { return e.Code }

// Is matches by code so wrapped copies compare equal to the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(kind Kind, code string) *Error { return &Error{Kind: kind, Code: code} }

var (
	ErrCategoryFull        = newError(KindConflict, "CATEGORY_FULL")
	ErrCategoryPlayersFull = newError(KindConflict, "CATEGORY_PLAYERS_FULL")
	ErrEventFull           = newError(KindConflict, "EVENT_FULL")
	ErrAlreadyPaid         = newError(KindConflict, "ALREADY_PAID")
	ErrInviteAlreadyUsed   = newError(KindConflict, "INVITE_ALREADY_USED")
	ErrInviteExpired       = newError(KindConflict, "INVITE_EXPIRED")
	ErrSplitDeadlinePassed = newError(KindConflict, "SPLIT_DEADLINE_PASSED")
	ErrSwapNotAllowed      = newError(KindConflict, "SWAP_NOT_ALLOWED")
	ErrSwapNotRequired     = newError(KindConflict, "SWAP_NOT_REQUIRED")
	ErrSwapConfirmExpired  = newError(KindConflict, "SWAP_CONFIRM_EXPIRED")
	ErrPairingCancelled    = newError(KindConflict, "PAIRING_CANCELLED")
	ErrSlotNotFilled       = newError(KindConflict, "SLOT_NOT_FILLED")
	ErrSelfInvite          = newError(KindInvalid, "SELF_INVITE")
	ErrInvalidPaymentMode  = newError(KindInvalid, "INVALID_PAYMENT_MODE")

	ErrPairingNotFound   = newError(KindNotFound, "PAIRING_NOT_FOUND")
	ErrEventNotFound     = newError(KindNotFound, "EVENT_NOT_FOUND")
	ErrCategoryNotFound  = newError(KindNotFound, "CATEGORY_NOT_FOUND")
	ErrInviteNotFound    = newError(KindNotFound, "INVITE_NOT_FOUND")
	ErrSwapTokenNotFound = newError(KindNotFound, "SWAP_TOKEN_NOT_FOUND")

	ErrNotInvitee  = newError(KindForbidden, "NOT_INVITEE")
	ErrNotOccupant = newError(KindForbidden, "NOT_OCCUPANT")
	ErrNotCaptain  = newError(KindForbidden, "NOT_CAPTAIN")
	ErrStaffOnly   = newError(KindForbidden, "STAFF_ONLY")
)

// KindOf returns the kind of a business error, or 0 if err is not one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
