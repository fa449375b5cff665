package workflows

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// LifecycleState is the approval state of a trainee form.
type LifecycleState string

const (
	// StateNone is the state of a form that has no recorded status yet.
	StateNone LifecycleState = ""

	StateDraft       LifecycleState = "DRAFT"
	StateSubmitted   LifecycleState = "SUBMITTED"
	StateUnsubmitted LifecycleState = "UNSUBMITTED"
	StateApproved    LifecycleState = "APPROVED"
	StateRejected    LifecycleState = "REJECTED"
	StateWithdrawn   LifecycleState = "WITHDRAWN"
	StateDeleted     LifecycleState = "DELETED"
)

// AllStates lists every lifecycle state.
var AllStates = []LifecycleState{
	StateApproved,
	StateDeleted,
	StateDraft,
	StateRejected,
	StateSubmitted,
	StateUnsubmitted,
	StateWithdrawn,
}

// NonDraftStates are the states of forms submitted at least once.
var NonDraftStates = slices.DeleteFunc(slices.Clone(AllStates), func(s LifecycleState) bool {
	return s == StateDraft
})

// FormVariant identifies a form family.
type FormVariant string

const (
	FormRPartA FormVariant = "FormR-PartA"
	FormRPartB FormVariant = "FormR-PartB"
	LTFT       FormVariant = "LTFT"
)

// AllVariants lists every form variant.
var AllVariants = []FormVariant{FormRPartA, FormRPartB, LTFT}

// FormRVariants is the Form-R family.
var FormRVariants = []FormVariant{FormRPartA, FormRPartB}

type stateSet map[LifecycleState]struct{}

type variantSet map[FormVariant]struct{}

func states(s ...LifecycleState) stateSet {
	set := make(stateSet, len(s))
	for _, v := range s {
		set[v] = struct{}{}
	}
	return set
}

func variants(v ...FormVariant) variantSet {
	set := make(variantSet, len(v))
	for _, x := range v {
		set[x] = struct{}{}
	}
	return set
}

// rule describes a lifecycle state independently of any form instance.
type rule struct {
	// Transitions are the states directly reachable from this state.
	Transitions stateSet
	// Variants are the form variants that may enter this state.
	Variants variantSet
	// RequiresDetail is set when entering the state needs a reason.
	RequiresDetail bool
}

// rules is read-only after package initialisation.
var rules = map[LifecycleState]rule{
	StateDraft: {
		Transitions: states(StateSubmitted),
		Variants:    variants(AllVariants...),
	},
	StateSubmitted: {
		Transitions: states(StateApproved, StateDeleted, StateRejected, StateUnsubmitted, StateWithdrawn),
		Variants:    variants(AllVariants...),
	},
	StateUnsubmitted: {
		Transitions:    states(StateSubmitted, StateWithdrawn),
		Variants:       variants(AllVariants...),
		RequiresDetail: true,
	},
	StateApproved: {
		Transitions: states(),
		Variants:    variants(LTFT),
	},
	StateRejected: {
		Transitions:    states(),
		Variants:       variants(LTFT),
		RequiresDetail: true,
	},
	StateWithdrawn: {
		Transitions:    states(),
		Variants:       variants(LTFT),
		RequiresDetail: true,
	},
	StateDeleted: {
		Transitions: states(),
		Variants:    variants(FormRVariants...),
	},
}

// CanTransition checks whether a form of the given variant may move from
// current to target. A form with no recorded state can never transition; its
// initial state must be set directly.
//
// The target state's variants are checked, not the current state's.
func CanTransition(current, target LifecycleState, variant FormVariant) bool {
	if current == StateNone {
		return false
	}
	from, ok := rules[current]
	if !ok {
		return false
	}
	if _, ok := from.Transitions[target]; !ok {
		return false
	}
	to, ok := rules[target]
	if !ok {
		return false
	}
	_, ok = to.Variants[variant]
	return ok
}

// GetAllowedTransitions returns the states a form of the given variant may
// move to from current, sorted by name.
func GetAllowedTransitions(current LifecycleState, variant FormVariant) []LifecycleState {
	allowed := []LifecycleState{}
	from, ok := rules[current]
	if !ok {
		return allowed
	}
	for target := range from.Transitions {
		if CanTransition(current, target, variant) {
			allowed = append(allowed, target)
		}
	}
	sort.Slice(allowed, func(i, j int) bool { return allowed[i] < allowed[j] })
	return allowed
}

// RequiresDetail reports whether entering the state needs a status detail.
func RequiresDetail(state LifecycleState) bool {
	return rules[state].RequiresDetail
}

// IsTerminal reports whether no transitions leave the state.
func IsTerminal(state LifecycleState) bool {
	r, ok := rules[state]
	return ok && len(r.Transitions) == 0
}

// ParseLifecycleState parses a state name case-insensitively.
func ParseLifecycleState(s string) (LifecycleState, error) {
	state := LifecycleState(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := rules[state]; !ok {
		return StateNone, fmt.Errorf("unknown lifecycle state %q", s)
	}
	return state, nil
}

// ParseFormVariant accepts a variant name or its URL slug.
func ParseFormVariant(s string) (FormVariant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "formr-parta", "formr-part-a", "parta":
		return FormRPartA, nil
	case "formr-partb", "formr-part-b", "partb":
		return FormRPartB, nil
	case "ltft":
		return LTFT, nil
	}
	return "", fmt.Errorf("unknown form variant %q", s)
}

// Slug is the URL path segment for the variant.
func (v FormVariant) Slug() string {
	switch v {
	case FormRPartA:
		return "formr-parta"
	case FormRPartB:
		return "formr-partb"
	case LTFT:
		return "ltft"
	}
	return strings.ToLower(string(v))
}

// IsFormR reports whether the variant belongs to the Form-R family.
func (v FormVariant) IsFormR() bool {
	return v == FormRPartA || v == FormRPartB
}
