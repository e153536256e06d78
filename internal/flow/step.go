// Package flow owns the interview state machine: which step a session is on,
// what it has answered, and whether a submission is in flight.
package flow

import (
	"strconv"
	"strings"
)

// Step is a position in the interview.
type Step int

const (
	StepIntro Step = iota
	StepIdentity
	StepServices
	StepHistory
	StepPhotos
	StepReview
	StepSubmitting
	StepComplete
)

var stepNames = [...]string{
	StepIntro:      "intro",
	StepIdentity:   "identity",
	StepServices:   "services",
	StepHistory:    "history",
	StepPhotos:     "photos",
	StepReview:     "review",
	StepSubmitting: "submitting",
	StepComplete:   "complete",
}

// Steps lists every step in order.
var Steps = []Step{
	StepIntro, StepIdentity, StepServices, StepHistory,
	StepPhotos, StepReview, StepSubmitting, StepComplete,
}

// LastNavigable is the furthest step reachable by navigation. Later steps
// are entered only by the submission transitions.
const LastNavigable = StepReview

// String returns the step name.
func (s Step) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return "step(" + strconv.Itoa(int(s)) + ")"
	}
	return stepNames[s]
}

// Index returns the step as its numeric position.
func (s Step) Index() int {
	return int(s)
}

// Clamp limits i to the valid step range.
func Clamp(i int) Step {
	if i < 0 {
		return StepIntro
	}
	if i > int(StepComplete) {
		return StepComplete
	}
	return Step(i)
}

// ParseStep accepts a step index or name. Out-of-range indexes are clamped.
func ParseStep(v string) (Step, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return StepIntro, false
	}
	if i, err := strconv.Atoi(v); err == nil {
		return Clamp(i), true
	}
	for i, name := range stepNames {
		if strings.EqualFold(name, v) {
			return Step(i), true
		}
	}
	return StepIntro, false
}

func clampNavigable(s Step) Step {
	if s < StepIntro {
		return StepIntro
	}
	if s > LastNavigable {
		return LastNavigable
	}
	return s
}
