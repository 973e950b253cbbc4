package domain

// Status is the invoice lifecycle state.
type Status string

const (
	StatusDraft               Status = "DRAFT"
	StatusPendingFinalization Status = "PENDING_FINALIZATION"
	StatusFinalized           Status = "FINALIZED"
	StatusVoid                Status = "VOID"
)

var transitions = map[Status][]Status{
	StatusDraft:               {StatusPendingFinalization, StatusFinalized, StatusVoid},
	StatusPendingFinalization: {StatusFinalized, StatusVoid},
	StatusFinalized:           {StatusVoid},
}

// Mutable statuses still accept line item changes.
var Mutable = []Status{StatusDraft, StatusPendingFinalization}

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingFinalization, StatusFinalized, StatusVoid:
		return true
	}
	return false
}

func (s Status) IsMutable() bool {
	return s == StatusDraft || s == StatusPendingFinalization
}

// CanTransition reports whether moving from s to next is a forward move.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
