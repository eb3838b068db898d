package ledgersync

import (
	"regexp"
	"strconv"
	"strings"
)

// Subject patterns for the two notification families. Extraction is exact:
// one anchored pattern per family, no fuzzy matching, no normalization
// beyond trimming.
var (
	// New-document subjects end with a dash and the proposal number:
	// "Signature requested: floor plan review - 104"
	proposalKeyPattern = regexp.MustCompile(`-\s*([0-9]+)\s*$`)

	// Completion subjects carry a labeled transfer phrase and the number:
	// "All parties signed: transfer completed for proposal 104"
	completionKeyPattern = regexp.MustCompile(`(?i)transfer completed for proposal\s*#?([0-9]+)`)
)

// ExtractProposalKey pulls the proposal number from a new-document subject.
// Returns false when the subject does not match; such events carry no
// correlation key and cannot be reconciled.
func ExtractProposalKey(subject string) (int64, bool) {
	return extractKey(proposalKeyPattern, subject)
}

// ExtractCompletionKey pulls the proposal number from an all-parties-signed
// subject.
func ExtractCompletionKey(subject string) (int64, bool) {
	return extractKey(completionKeyPattern, subject)
}

func extractKey(pattern *regexp.Regexp, subject string) (int64, bool) {
	match := pattern.FindStringSubmatch(strings.TrimSpace(subject))
	if match == nil {
		return 0, false
	}
	key, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return key, true
}

// EventOutcome classifies how one feed event resolved against the ledger.
type EventOutcome string

const (
	// OutcomeMatched: a key was extracted and a ledger row was found for it.
	OutcomeMatched EventOutcome = "matched"
	// OutcomeUnparsed: the subject did not yield a key.
	OutcomeUnparsed EventOutcome = "unparsed"
	// OutcomeOrphan: a key was extracted but no ledger row carries it.
	OutcomeOrphan EventOutcome = "orphan"
)
