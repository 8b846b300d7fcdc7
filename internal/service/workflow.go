package service

import (
	"fmt"
	"sort"

	"github.com/rongwang/countersign-server/internal/models"
)

// LedgerEntry is a resolved signing obligation, ready to become a Signature row
type LedgerEntry struct {
	SigneeID      string
	Position      int
	AlreadySigned bool
}

// ResolveLedger validates the signee selection of a new document and assigns
// positions. Every violated rule is reported in a single *ValidationError.
// Without explicit positions, included signees are numbered from 1 in the
// order they appear.
func ResolveLedger(selections []models.SigneeSelection) ([]LedgerEntry, error) {
	entries, problems := resolveLedger(selections)
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return entries, nil
}

func resolveLedger(selections []models.SigneeSelection) ([]LedgerEntry, []ValidationProblem) {
	var problems []ValidationProblem
	included := make([]models.SigneeSelection, 0, len(selections))
	seen := make(map[string]bool, len(selections))

	for _, sel := range selections {
		if sel.AlreadySigned && !sel.Included {
			problems = append(problems, ValidationProblem{
				Code:    CodeSigneeNotIncluded,
				Message: fmt.Sprintf("Signee %s cannot be marked as 'already signed' without being included.", sel.SigneeID),
			})
		}
		if !sel.Included {
			continue
		}
		if seen[sel.SigneeID] {
			problems = append(problems, ValidationProblem{
				Code:    CodeDuplicateSignee,
				Message: fmt.Sprintf("Signee %s is included more than once.", sel.SigneeID),
			})
			continue
		}
		seen[sel.SigneeID] = true
		included = append(included, sel)
	}

	specified := make([]int, 0, len(included))
	for _, sel := range included {
		if sel.Position != nil {
			specified = append(specified, *sel.Position)
		}
	}
	if len(specified) > 0 {
		if !isConsecutiveFromOne(specified, len(included)) {
			problems = append(problems, ValidationProblem{
				Code:    CodeNonConsecutivePositions,
				Message: fmt.Sprintf("Positions must be consecutive from 1 to %d.", len(included)),
			})
		}
		if len(specified) != len(included) {
			problems = append(problems, ValidationProblem{
				Code:    CodePartialPositions,
				Message: "Positions must be specified for all or for none.",
			})
		}
	}

	pending := 0
	for _, sel := range included {
		if !sel.AlreadySigned {
			pending++
		}
	}
	if pending == 0 {
		problems = append(problems, ValidationProblem{
			Code:    CodeNoPendingSignee,
			Message: "You need to add at least one signee that didn't sign the document yet.",
		})
	}

	if len(problems) > 0 {
		return nil, problems
	}

	entries := make([]LedgerEntry, 0, len(included))
	for i, sel := range included {
		position := i + 1
		if sel.Position != nil {
			position = *sel.Position
		}
		entries = append(entries, LedgerEntry{
			SigneeID:      sel.SigneeID,
			Position:      position,
			AlreadySigned: sel.AlreadySigned,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Position < entries[j].Position })
	return entries, nil
}

func isConsecutiveFromOne(positions []int, n int) bool {
	if len(positions) != n {
		return false
	}
	sorted := append([]int(nil), positions...)
	sort.Ints(sorted)
	for i, p := range sorted {
		if p != i+1 {
			return false
		}
	}
	return true
}

// nextPending returns the lowest-position entry of an unsigned list
func nextPending(unsigned []models.SignatureDetail) (models.SignatureDetail, bool) {
	if len(unsigned) == 0 {
		return models.SignatureDetail{}, false
	}
	next := unsigned[0]
	for _, entry := range unsigned[1:] {
		if entry.Position < next.Position {
			next = entry
		}
	}
	return next, true
}

// inviteAttachment picks the file sent with an invite: the document's file for
// the first position, the previous signee's signed file otherwise.
func inviteAttachment(doc models.Document, next models.SignatureDetail, previous *models.SignatureDetail) (string, error) {
	if next.Position == 1 {
		return doc.File, nil
	}
	if previous == nil || previous.SignedFile == nil || *previous.SignedFile == "" {
		return "", fmt.Errorf("%w: document %s position %d", ErrMissingAttachment, doc.ID, next.Position-1)
	}
	return *previous.SignedFile, nil
}
