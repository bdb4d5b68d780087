package memory

// The owner lock is a two-state machine: a record starts unlocked and
// locks to the first persona seen in a single-party conversation. The
// transition is one-way; a locked record never changes owner.

// EnsureOwner fires the lock transition if it is eligible: the record is
// unlocked, the conversation is single-party, and a persona id is
// available. Reports whether the record locked on this call.
func EnsureOwner(rec *Record, personaID string, isMultiParty bool) bool {
	if isMultiParty || personaID == "" || rec.OwnerCharID != nil {
		return false
	}
	owner := personaID
	rec.OwnerCharID = &owner
	return true
}

// IsOwner reports whether the persona may read and write the record.
// Multi-party conversations never have an owner, and an absent persona id
// is never the owner.
func IsOwner(rec *Record, personaID string, isMultiParty bool) bool {
	if isMultiParty || personaID == "" || rec.OwnerCharID == nil {
		return false
	}
	return *rec.OwnerCharID == personaID
}
