// Package lifecycle owns the help-request state machine: a single pure
// transition function over typed events. It never touches storage or the
// chat platform; callers persist the returned record and execute the
// returned effects.
package lifecycle

// Event is an inbound occurrence the state machine reacts to. Free-text
// answers arrive already normalized by the intake parser; the machine only
// enforces state and size guards.
type Event interface {
	isEvent()
}

// ClassAnswer carries a normalized, registered class name for stage 1.
type ClassAnswer struct {
	ClassName string
}

// TitleAnswer carries the whitespace-collapsed title for stage 2.
type TitleAnswer struct {
	Title string
}

// DescriptionAnswer carries the whitespace-collapsed description for stage 3.
type DescriptionAnswer struct {
	Description string
}

// ConfirmAnswer carries the parsed yes/no answer for stage 4.
type ConfirmAnswer struct {
	Yes bool
}

// Claim is a mentor volunteering for the request.
type Claim struct {
	Mentor int64
}

// Unclaim is a mentor withdrawing from the request.
type Unclaim struct {
	Mentor int64
}

// Cancel closes the request on behalf of Actor.
type Cancel struct {
	Actor int64
}

// Complete marks the request resolved.
type Complete struct {
	Actor int64
}

// Expire cancels an idle draft; no user is recorded as canceler.
type Expire struct{}

func (ClassAnswer) isEvent()       {}
func (TitleAnswer) isEvent()       {}
func (DescriptionAnswer) isEvent() {}
func (ConfirmAnswer) isEvent()     {}
func (Claim) isEvent()             {}
func (Unclaim) isEvent()           {}
func (Cancel) isEvent()            {}
func (Complete) isEvent()          {}
func (Expire) isEvent()            {}

// Effect is an outward action the coordinator must take after persisting
// a successful transition.
type Effect int

const (
	// EffectPrompt asks the author for the next intake stage.
	EffectPrompt Effect = iota + 1
	// EffectPublish creates the live queue posting.
	EffectPublish
	// EffectRefreshPosting re-renders the live queue posting.
	EffectRefreshPosting
	// EffectDeletePosting removes the live queue posting.
	EffectDeletePosting
	// EffectArchive writes the one-and-only archive entry.
	EffectArchive
	// EffectNotifyChannel announces the outcome in the request's private conversation.
	EffectNotifyChannel
	// EffectGrantAccess adds the new mentor to the private conversation.
	EffectGrantAccess
)
