package query

import (
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// StepKind distinguishes capture references from string literals in a
// predicate.
type StepKind int

const (
	StepString StepKind = iota
	StepCapture
)

func (k StepKind) String() string {
	if k == StepCapture {
		return "capture"
	}
	return "string"
}

// PredicateStep is one argument of a predicate. Value is a capture name for
// StepCapture and the literal for StepString.
type PredicateStep struct {
	Kind  StepKind
	Value string
}

// Predicate is the raw form of one "#name? args..." or "#name! args..."
// clause. The first step is the name.
type Predicate []PredicateStep

// Name returns the predicate's name, such as "eq?" or "set!".
func (p Predicate) Name() string {
	if len(p) == 0 || p[0].Kind != StepString {
		return ""
	}
	return p[0].Value
}

// Args returns the steps after the name.
func (p Predicate) Args() []PredicateStep {
	if len(p) == 0 {
		return nil
	}
	return p[1:]
}

// PredicatesForPattern returns the predicates of pattern i as written. They
// are not interpreted: directives such as "set!" are left to the caller.
func (q *Query) PredicatesForPattern(i int) ([]Predicate, error) {
	if q.Closed() {
		return nil, ErrClosed
	}
	if i < 0 || i >= q.PatternCount() {
		return nil, fmt.Errorf("query: pattern %d out of range [0,%d)", i, q.PatternCount())
	}

	var out []Predicate
	for _, steps := range q.raw.PredicatesForPattern(uint32(i)) {
		p := make(Predicate, 0, len(steps))
		for _, s := range steps {
			switch s.Type {
			case sitter.QueryPredicateStepTypeCapture:
				p = append(p, PredicateStep{Kind: StepCapture, Value: q.raw.CaptureNameForId(s.ValueId)})
			case sitter.QueryPredicateStepTypeString:
				p = append(p, PredicateStep{Kind: StepString, Value: q.raw.StringValueForId(s.ValueId)})
			}
		}
		if len(p) > 0 {
			out = append(out, p)
		}
	}
	return out, nil
}
