package model

import "fmt"

// Outcome is the terminal state of an anonymization run on one image.
type Outcome int

const (
	// OutcomeUnknown is the zero value, used for images that were never processed.
	OutcomeUnknown Outcome = iota

	// OutcomeAlreadyBelow means the untouched image already scored under the threshold.
	// No candidate was generated and the original is returned.
	OutcomeAlreadyBelow

	// OutcomeAnonymized means a candidate reached the threshold.
	OutcomeAnonymized

	// OutcomeBestEffort means the iteration budget ran out. The returned image is
	// the lowest-scoring candidate seen, which is strictly better than the original.
	OutcomeBestEffort

	// OutcomeUnmodified means no candidate ever improved on the original.
	// The original image is returned unchanged.
	OutcomeUnmodified
)

var outcomeNames = map[Outcome]string{
	OutcomeUnknown:      "unknown",
	OutcomeAlreadyBelow: "already_below",
	OutcomeAnonymized:   "anonymized",
	OutcomeBestEffort:   "best_effort",
	OutcomeUnmodified:   "unmodified",
}

// String returns the snake_case name used in reports and storage.
func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return "unknown"
}

// Reached reports whether the image ended under the threshold.
func (o Outcome) Reached() bool {
	return o == OutcomeAnonymized || o == OutcomeAlreadyBelow
}

// Outcomes lists every processed outcome in display order.
func Outcomes() []Outcome {
	return []Outcome{OutcomeAlreadyBelow, OutcomeAnonymized, OutcomeBestEffort, OutcomeUnmodified}
}

// ParseOutcome is the inverse of String.
func ParseOutcome(s string) (Outcome, error) {
	for o, name := range outcomeNames {
		if name == s {
			return o, nil
		}
	}
	return OutcomeUnknown, fmt.Errorf("unknown outcome %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(b []byte) error {
	v, err := ParseOutcome(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}
