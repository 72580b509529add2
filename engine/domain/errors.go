// Package domain defines the error taxonomy shared by the quest, challenge
// and progress services. These are domain outcomes reported to callers;
// storage and catalog I/O failures are returned as-is and are never folded
// into them.
package domain

import "errors"

var (
	// ErrPrerequisiteNotMet: start() requirements (level, prior quests,
	// faction standing) are unsatisfied.
	ErrPrerequisiteNotMet = errors.New("prerequisite not met")
	// ErrAlreadyActive: a non-repeatable template already has an ACTIVE
	// instance for the character.
	ErrAlreadyActive = errors.New("quest already active")
	// ErrInvalidTransition: no such branch edge, or the current node's
	// objectives are incomplete.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrObjectivesIncomplete: complete() called before the terminal node's
	// objectives are all satisfied.
	ErrObjectivesIncomplete = errors.New("objectives incomplete")
	// ErrAlreadyTerminal: the instance reached a terminal status first; the
	// caller's transition lost the race and was not applied.
	ErrAlreadyTerminal = errors.New("instance already terminal")
	// ErrRerollLimitExceeded: the challenge has no rerolls left.
	ErrRerollLimitExceeded = errors.New("reroll limit exceeded")
)

// Fail reasons recorded on FAILED instances. TimedOut is an outcome, not an
// error.
const (
	ReasonTimedOut      = "TimedOut"
	ReasonPeriodExpired = "PeriodExpired"
)
