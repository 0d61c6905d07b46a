package uidset

// Flag is one of the fixed IMAP flag alphabet members tracked by the core.
type Flag string

const (
	FlagSeen     Flag = "\\Seen"
	FlagAnswered Flag = "\\Answered"
	FlagFlagged  Flag = "\\Flagged"
	FlagDeleted  Flag = "\\Deleted"
	FlagDraft    Flag = "\\Draft"
)

// FlagSet is an unordered set of flags attached to one message.
type FlagSet map[Flag]struct{}

// NewFlagSet builds a FlagSet from a list of flags.
func NewFlagSet(flags ...Flag) FlagSet {
	s := make(FlagSet, len(flags))
	for _, f := range flags {
		s[f] = struct{}{}
	}
	return s
}

// Has reports whether f is a member of the set.
func (s FlagSet) Has(f Flag) bool {
	_, ok := s[f]
	return ok
}

// Add inserts f into the set, returning s for chaining.
func (s FlagSet) Add(f Flag) FlagSet {
	s[f] = struct{}{}
	return s
}

// Remove deletes f from the set, returning s for chaining.
func (s FlagSet) Remove(f Flag) FlagSet {
	delete(s, f)
	return s
}

// Clone returns an independent copy of s.
func (s FlagSet) Clone() FlagSet {
	out := make(FlagSet, len(s))
	for f := range s {
		out[f] = struct{}{}
	}
	return out
}

// Equal reports whether s and other contain exactly the same flags.
func (s FlagSet) Equal(other FlagSet) bool {
	if len(s) != len(other) {
		return false
	}
	for f := range s {
		if !other.Has(f) {
			return false
		}
	}
	return true
}

// Diff returns the flags present in s but not in other (added) and the
// flags present in other but not in s (removed) — i.e. the edits needed to
// turn other into s.
func (s FlagSet) Diff(other FlagSet) (added, removed FlagSet) {
	added, removed = FlagSet{}, FlagSet{}
	for f := range s {
		if !other.Has(f) {
			added[f] = struct{}{}
		}
	}
	for f := range other {
		if !s.Has(f) {
			removed[f] = struct{}{}
		}
	}
	return added, removed
}

// Slice returns the set's members in no particular order.
func (s FlagSet) Slice() []Flag {
	out := make([]Flag, 0, len(s))
	for f := range s {
		out = append(out, f)
	}
	return out
}

// MessageList is the UID → flag-set mapping a Folder caches from its
// backing store.
type MessageList map[UID]FlagSet
