// Package dateresolve disambiguates the portal's year-less timestamps.
//
// Board columns carry "month/day hour:minute" with no year. Rows arrive in
// descending-by-recency order, so the resolver walks them sequentially and
// decrements its assumed year whenever a parsed update time jumps forward,
// which means the traversal crossed a calendar year boundary.
package dateresolve

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var fullDatePattern = regexp.MustCompile(`(\d{4})\D+(\d{1,2})\D+(\d{1,2}).*?(\d{1,2}):(\d{1,2})`)

// Resolver carries the running state of the sequential traversal: the
// currently assumed year and the last resolved update time. It must be fed
// rows strictly in extraction order and is not safe for concurrent use.
type Resolver struct {
	lastUpdated time.Time
	loc         *time.Location
	now         func() time.Time
	assumedYear int
}

// New creates a resolver assuming the current calendar year in loc.
func New(loc *time.Location) *Resolver {
	return NewAt(loc, time.Now)
}

// NewAt creates a resolver with an injectable clock. Used in tests.
func NewAt(loc *time.Location, now func() time.Time) *Resolver {
	return &Resolver{
		loc:         loc,
		now:         now,
		assumedYear: now().In(loc).Year(),
	}
}

// Resolve parses one row's posted/updated texts under the assumed year,
// applying the rollover heuristic, and advances the running state.
func (r *Resolver) Resolve(postedText, updatedText string) (posted, updated time.Time) {
	updated = r.parsePartial(updatedText, r.assumedYear)
	if !r.lastUpdated.IsZero() && updated.After(r.lastUpdated) {
		r.assumedYear--
		updated = r.parsePartial(updatedText, r.assumedYear)
	}

	posted = r.parsePartial(postedText, r.assumedYear)
	r.lastUpdated = updated

	return posted, updated
}

// parsePartial parses "month/day hour:minute" under an explicit year.
// Malformed input degrades to January 1 of that year.
func (r *Resolver) parsePartial(text string, year int) time.Time {
	fallback := time.Date(year, time.January, 1, 0, 0, 0, 0, r.loc)

	parts := strings.Fields(strings.TrimSpace(text))
	if len(parts) != 2 {
		return fallback
	}

	md := strings.Split(parts[0], "/")
	hm := strings.Split(parts[1], ":")

	if len(md) != 2 || len(hm) != 2 {
		return fallback
	}

	month, err1 := strconv.Atoi(md[0])
	day, err2 := strconv.Atoi(md[1])
	hour, err3 := strconv.Atoi(hm[0])
	minute, err4 := strconv.Atoi(hm[1])

	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return fallback
	}

	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, r.loc)
}

// ParseFull parses an authoritative full date string from a detail page,
// such as "2024年1月5日(金) 12:30". Unparsable input degrades to the
// current instant rather than failing the record.
func (r *Resolver) ParseFull(text string) time.Time {
	text = strings.TrimSpace(text)
	if text == "" {
		return r.now().In(r.loc)
	}

	m := fullDatePattern.FindStringSubmatch(text)
	if m == nil {
		return r.now().In(r.loc)
	}

	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	hour, _ := strconv.Atoi(m[4])
	minute, _ := strconv.Atoi(m[5])

	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, r.loc)
}

// Reconcile corrects the guessed years against an authoritative full
// update time.
//
// When posted and updated resolved equal, or updated landed before posted
// (evidence the year guess was wrong or no edit ever occurred), both are
// rewritten to the authoritative year. When posted precedes updated a real
// edit occurred, possibly in a later year than the posting, so only
// updated's year is rewritten.
func Reconcile(posted, updated, full time.Time) (time.Time, time.Time) {
	year := full.Year()

	if posted.Equal(updated) || updated.Before(posted) {
		return withYear(posted, year), withYear(updated, year)
	}

	return posted, withYear(updated, year)
}

func withYear(t time.Time, year int) time.Time {
	return time.Date(year, t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
