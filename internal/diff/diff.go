// Package diff classifies extracted notices against the previous snapshot.
package diff

import (
	"portalwatch/internal/models"
)

// Result partitions the current cycle's notices.
//
// DetailOnly lists ids of updated notices whose change is invisible in the
// board columns (content or attachment change only). Those are flagged as
// advisories because a board-only deployment would have missed them.
type Result struct {
	New        []models.Notice
	Updated    []models.Notice
	DetailOnly []string
}

// Changed reports whether the cycle produced any new or updated notices.
func (r Result) Changed() bool {
	return len(r.New) > 0 || len(r.Updated) > 0
}

// Total returns the combined size of the change set.
func (r Result) Total() int {
	return len(r.New) + len(r.Updated)
}

// Classify compares current notices against the previous snapshot,
// preserving the order of current. A notice whose id is absent from the
// snapshot is new; a known id is updated when any visible field differs.
// Upload references (file_url) are pipeline-injected and never compared.
func Classify(previous, current []models.Notice) Result {
	prevByID := make(map[string]models.Notice, len(previous))
	for _, n := range previous {
		prevByID[n.ID] = n
	}

	var result Result

	for _, notice := range current {
		existing, ok := prevByID[notice.ID]
		if !ok {
			result.New = append(result.New, notice)

			continue
		}

		if !updated(existing, notice) {
			continue
		}

		result.Updated = append(result.Updated, notice)

		if !boardVisible(existing, notice) {
			result.DetailOnly = append(result.DetailOnly, notice.ID)
		}
	}

	return result
}

// updated reports whether any visible field changed.
func updated(old, cur models.Notice) bool {
	return cur.Updated.After(old.Updated) ||
		!contentEqual(old.Content, cur.Content) ||
		!attachmentsEqual(old.Attachments, cur.Attachments) ||
		cur.From != old.From ||
		!tagsEqual(old.To, cur.To) ||
		cur.Title != old.Title
}

// boardVisible reports whether the change is detectable from the board
// columns alone, without a detail fetch.
func boardVisible(old, cur models.Notice) bool {
	return cur.Updated.After(old.Updated) ||
		cur.From != old.From ||
		!tagsEqual(old.To, cur.To) ||
		cur.Title != old.Title
}

// contentEqual treats presence as significant: a notice whose body became
// readable (or unreadable) counts as changed even if the text matches.
func contentEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	return *a == *b
}

// attachmentsEqual compares attachment lists structurally on the visible
// fields, order-sensitive, ignoring file_url.
func attachmentsEqual(a, b []models.Attachment) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i].Text != b[i].Text {
			return false
		}

		if models.StrVal(a[i].URL) != models.StrVal(b[i].URL) ||
			(a[i].URL == nil) != (b[i].URL == nil) {
			return false
		}
	}

	return true
}

// tagsEqual compares audience tag sequences order-sensitively.
func tagsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
