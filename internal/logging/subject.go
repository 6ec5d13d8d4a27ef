package logging

import "strings"

// FormatSubject builds the sequence/step subject shown in front of console
// messages, e.g. "nightly › STEP1".
func FormatSubject(sequence, stepKey string) string {
	sequence = strings.TrimSpace(sequence)
	stepKey = strings.TrimSpace(stepKey)
	switch {
	case sequence != "" && stepKey != "":
		return sequence + " › " + stepKey
	case stepKey != "":
		return stepKey
	default:
		return sequence
	}
}
