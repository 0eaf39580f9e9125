package registry

// Outcome is the result of a registry operation.
type Outcome int

const (
	OK Outcome = iota
	InvalidSlot
	AlreadyRegistered
	SlotFull
	NotRegistered
	DuplicateRequest
	InvalidRequest
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case InvalidSlot:
		return "invalid_slot"
	case AlreadyRegistered:
		return "already_registered"
	case SlotFull:
		return "slot_full"
	case NotRegistered:
		return "not_registered"
	case DuplicateRequest:
		return "duplicate_request"
	case InvalidRequest:
		return "invalid_request"
	default:
		return "unknown"
	}
}
