package graph

// Status classifies an operation within the dependency graph.
//
// Lifecycle: Pending -> Ready -> Accepted (terminal), or Conflicted /
// Rejected (terminal, never re-entered). Evicted operations left the pending
// pool under the retention policy and may be resubmitted. Malformed
// operations never enter the graph at all.
type Status int

const (
	StatusUnknown Status = iota
	// StatusPending means at least one consumed cell is unresolved: its
	// producer is unknown, or known but not yet accepted.
	StatusPending
	// StatusReady means every consumed cell is live; the operation awaits
	// ordering and verification.
	StatusReady
	// StatusAccepted means the operation was verified, ordered, and
	// persisted. Terminal.
	StatusAccepted
	// StatusConflicted means the operation attempted to consume a cell
	// already consumed by an accepted operation. Terminal.
	StatusConflicted
	// StatusRejected means witness verification failed. Terminal.
	StatusRejected
	// StatusEvicted means the operation aged out of the pending pool.
	StatusEvicted
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusAccepted:
		return "accepted"
	case StatusConflicted:
		return "conflicted"
	case StatusRejected:
		return "rejected"
	case StatusEvicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// ParseStatus maps the persisted string form back to a Status.
func ParseStatus(s string) Status {
	switch s {
	case "pending":
		return StatusPending
	case "ready":
		return StatusReady
	case "accepted":
		return StatusAccepted
	case "conflicted":
		return StatusConflicted
	case "rejected":
		return StatusRejected
	case "evicted":
		return StatusEvicted
	default:
		return StatusUnknown
	}
}

// Terminal reports whether the status can never change again.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusConflicted || s == StatusRejected
}
