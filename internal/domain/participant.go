package domain

type ParticipantStatus string

const (
	ParticipantInvited   ParticipantStatus = "INVITED"
	ParticipantConfirmed ParticipantStatus = "CONFIRMED"
	ParticipantDeclined  ParticipantStatus = "DECLINED"
	ParticipantJoined    ParticipantStatus = "JOINED"
	ParticipantLeft      ParticipantStatus = "LEFT"
)

func (s ParticipantStatus) Valid() bool {
	switch s {
	case ParticipantInvited, ParticipantConfirmed, ParticipantDeclined, ParticipantJoined, ParticipantLeft:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a participant may move from s to next.
// Re-applying the current status is allowed and treated as a no-op by callers.
// DECLINED and LEFT are terminal.
func (s ParticipantStatus) CanTransitionTo(next ParticipantStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case ParticipantInvited:
		return next == ParticipantConfirmed || next == ParticipantDeclined || next == ParticipantJoined || next == ParticipantLeft
	case ParticipantConfirmed:
		return next == ParticipantJoined || next == ParticipantDeclined || next == ParticipantLeft
	case ParticipantJoined:
		return next == ParticipantLeft
	default:
		return false
	}
}

// IsTerminal reports whether the record can no longer change.
func (s ParticipantStatus) IsTerminal() bool {
	return s == ParticipantDeclined || s == ParticipantLeft
}

// Blocked is the only status that keeps a user out of a ride's room.
func (s ParticipantStatus) Blocked() bool { return s == ParticipantDeclined }

// CanShareLocation reports whether a participant in this status may publish location updates.
func (s ParticipantStatus) CanShareLocation() bool {
	return s == ParticipantConfirmed || s == ParticipantJoined
}

// CanChat reports whether a participant in this status may post to the ride's chat.
func (s ParticipantStatus) CanChat() bool {
	return s == ParticipantInvited || s == ParticipantConfirmed || s == ParticipantJoined
}

// Counted reports whether the participant is included in ride statistics.
func (s ParticipantStatus) Counted() bool {
	return s == ParticipantConfirmed || s == ParticipantJoined
}
