// package dialog tracks multi-step conversations as explicit state
// machines, decoupled from the chat transport. The transport layer maps
// incoming messages onto flow steps; this package owns which transitions
// are legal and when a flow expires.
package dialog

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/desertthunder/melodymind/internal/shared"
)

// Kind names a dialog flow type.
type Kind string

const (
	KindMoodCapture    Kind = "mood_capture"
	KindAccountLinking Kind = "account_linking"
)

// Step is a flow's current position. StepDone is terminal; a flow in
// StepDone no longer exists in the registry.
type Step string

const (
	StepAwaitingMood       Step = "awaiting_mood"
	StepAwaitingPreference Step = "awaiting_preference"
	StepAwaitingCode       Step = "awaiting_code"
	StepDone               Step = "done"
)

// timeout is the inactivity window after which the flow silently expires.
// Linking gets longer because the user leaves the chat to authorize.
func (k Kind) timeout() time.Duration {
	if k == KindAccountLinking {
		return 10 * time.Minute
	}
	return 5 * time.Minute
}

func (k Kind) initialStep() Step {
	if k == KindAccountLinking {
		return StepAwaitingCode
	}
	return StepAwaitingMood
}

// transitions lists the legal next steps per kind and step. A failed
// external call is not a transition; the flow simply stays where it is.
var transitions = map[Kind]map[Step][]Step{
	KindMoodCapture: {
		StepAwaitingMood:       {StepAwaitingPreference, StepDone},
		StepAwaitingPreference: {StepDone},
	},
	KindAccountLinking: {
		StepAwaitingCode: {StepDone},
	},
}

// minAuthCodeLength filters obvious chatter from authorization codes. Real
// provider codes are far longer.
const minAuthCodeLength = 50

// PlausibleAuthCode reports whether text could be a pasted authorization
// code. Rejection is not a transition; the flow keeps waiting.
func PlausibleAuthCode(text string) bool {
	code := strings.TrimSpace(text)
	return len(code) >= minAuthCodeLength && !strings.ContainsAny(code, " \t\n")
}

// Flow is one active dialog. Fields are snapshots; mutation goes through
// the registry.
type Flow struct {
	UserID   int64
	Kind     Kind
	Step     Step
	Deadline time.Time
}

type flowKey struct {
	userID int64
	kind   Kind
}

// Registry holds all active flows. An expired flow is indistinguishable
// from an absent one.
type Registry struct {
	mu    sync.Mutex
	flows map[flowKey]*Flow
	clock func() time.Time
}

// NewRegistry creates an empty dialog registry.
func NewRegistry() *Registry {
	return &Registry{
		flows: make(map[flowKey]*Flow),
		clock: time.Now,
	}
}

// Begin starts a flow for the user, discarding any previous flow of the
// same kind. Last writer wins.
func (r *Registry) Begin(userID int64, kind Kind) Flow {
	r.mu.Lock()
	defer r.mu.Unlock()

	flow := &Flow{
		UserID:   userID,
		Kind:     kind,
		Step:     kind.initialStep(),
		Deadline: r.clock().Add(kind.timeout()),
	}
	r.flows[flowKey{userID, kind}] = flow
	return *flow
}

// Get returns the user's active flow of the given kind. Expired flows are
// dropped and reported as absent.
func (r *Registry) Get(userID int64, kind Kind) (Flow, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := flowKey{userID, kind}
	flow, ok := r.flows[key]
	if !ok {
		return Flow{}, false
	}
	if r.clock().After(flow.Deadline) {
		delete(r.flows, key)
		return Flow{}, false
	}
	return *flow, true
}

// Advance moves the flow to the next step, refreshing its deadline. Illegal
// transitions and absent flows return ErrInvalidInput; advancing to
// StepDone removes the flow.
func (r *Registry) Advance(userID int64, kind Kind, next Step) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := flowKey{userID, kind}
	flow, ok := r.flows[key]
	if !ok || r.clock().After(flow.Deadline) {
		delete(r.flows, key)
		return fmt.Errorf("%w: no active %s flow", shared.ErrInvalidInput, kind)
	}

	if !legalTransition(kind, flow.Step, next) {
		return fmt.Errorf("%w: %s cannot move from %s to %s", shared.ErrInvalidInput, kind, flow.Step, next)
	}

	if next == StepDone {
		delete(r.flows, key)
		return nil
	}
	flow.Step = next
	flow.Deadline = r.clock().Add(kind.timeout())
	return nil
}

// Touch refreshes the flow's deadline without changing its step, for inputs
// that were received but rejected.
func (r *Registry) Touch(userID int64, kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	flow, ok := r.flows[flowKey{userID, kind}]
	if ok && !r.clock().After(flow.Deadline) {
		flow.Deadline = r.clock().Add(kind.timeout())
	}
}

// End cancels the user's flow of the given kind, reporting whether one was
// active.
func (r *Registry) End(userID int64, kind Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := flowKey{userID, kind}
	flow, ok := r.flows[key]
	if !ok {
		return false
	}
	expired := r.clock().After(flow.Deadline)
	delete(r.flows, key)
	return !expired
}

func legalTransition(kind Kind, from, to Step) bool {
	for _, step := range transitions[kind][from] {
		if step == to {
			return true
		}
	}
	return false
}
