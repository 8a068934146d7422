// Package streak records daily check-ins on a habit and derives its streak counters.
//
// Streaks count consecutive completed entries in date order among the days that were
// actually recorded. Unrecorded days between two completed entries do not break a streak,
// and a habit's target weekdays do not restrict which days count.
package streak

import (
	"sort"
	"time"

	"github.com/cppla/habits/models"
)

// ErrInvalidStatus is returned when a check-in status is neither completed nor missed.
var ErrInvalidStatus = models.ErrInvalidStatus

// Day is a civil calendar date. It is comparable and used as the check-in index key.
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

// DayOf returns the civil date carried by t in its own location.
func DayOf(t time.Time) Day {
	y, m, d := t.Date()
	return Day{Year: y, Month: m, Day: d}
}

// Time returns midnight UTC of the day, the form check-in dates are stored in.
func (d Day) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// String formats the day as 2006-01-02.
func (d Day) String() string {
	return d.Time().Format(time.DateOnly)
}

// Engine applies check-ins using one calendar timezone.
type Engine struct {
	loc *time.Location
	now func() time.Time
}

// NewEngine builds an engine that resolves instants to calendar days in loc.
// A nil loc means UTC.
func NewEngine(loc *time.Location) Engine {
	if loc == nil {
		loc = time.UTC
	}
	return Engine{loc: loc, now: time.Now}
}

// WithClock returns a copy of the engine that reads "now" from clock.
func (e Engine) WithClock(clock func() time.Time) Engine {
	e.now = clock
	return e
}

// Location returns the calendar timezone.
func (e Engine) Location() *time.Location {
	if e.loc == nil {
		return time.UTC
	}
	return e.loc
}

// Now reads the engine clock.
func (e Engine) Now() time.Time {
	return e.clock()()
}

// Today returns the current calendar day in the engine's timezone.
func (e Engine) Today() Day {
	return e.DayAt(e.Now())
}

// DayAt converts an instant into the calendar day it falls on in the engine's timezone.
func (e Engine) DayAt(t time.Time) Day {
	return DayOf(t.In(e.Location()))
}

func (e Engine) clock() func() time.Time {
	if e.now == nil {
		return time.Now
	}
	return e.now
}

// RecordCheckIn sets the status of the habit for the calendar day containing date and
// recomputes both streak counters. A zero date means today. An existing entry for the
// same day is overwritten, otherwise a new one is added.
//
// h is not modified; the updated habit is returned. On error h is returned unchanged.
func (e Engine) RecordCheckIn(h models.Habit, date time.Time, status models.CheckInStatus) (models.Habit, error) {
	if !status.Valid() {
		return h, ErrInvalidStatus
	}
	if date.IsZero() {
		date = e.Now()
	}

	book := newLedger(h.ID, h.CheckIns)
	book.put(e.DayAt(date), status)

	out := h
	out.CheckIns = book.sorted()
	out.CurrentStreak, out.LongestStreak = Recompute(out.CheckIns)
	return out, nil
}

// Recompute walks the check-ins in ascending date order and returns the streak ending
// at the latest entry and the longest streak seen. Entries sharing a date keep their
// relative order.
func Recompute(checkIns []models.CheckIn) (current, longest int) {
	for _, ci := range sortByDate(checkIns) {
		if ci.Status == models.CheckInCompleted {
			current++
			if current > longest {
				longest = current
			}
			continue
		}
		current = 0
	}
	return current, longest
}

func sortByDate(checkIns []models.CheckIn) []models.CheckIn {
	sorted := make([]models.CheckIn, len(checkIns))
	copy(sorted, checkIns)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})
	return sorted
}

// ledger is a copy of a habit's check-ins indexed by calendar day.
type ledger struct {
	habitID uint
	entries []models.CheckIn
	byDay   map[Day]int
}

func newLedger(habitID uint, checkIns []models.CheckIn) *ledger {
	l := &ledger{
		habitID: habitID,
		entries: make([]models.CheckIn, len(checkIns)),
		byDay:   make(map[Day]int, len(checkIns)+1),
	}
	copy(l.entries, checkIns)
	for i, ci := range l.entries {
		// legacy duplicates: the first entry for a day wins
		if _, ok := l.byDay[DayOf(ci.Date)]; !ok {
			l.byDay[DayOf(ci.Date)] = i
		}
	}
	return l
}

func (l *ledger) put(day Day, status models.CheckInStatus) {
	if i, ok := l.byDay[day]; ok {
		l.entries[i].Status = status
		return
	}
	l.byDay[day] = len(l.entries)
	l.entries = append(l.entries, models.CheckIn{HabitID: l.habitID, Date: day.Time(), Status: status})
}

func (l *ledger) sorted() []models.CheckIn {
	return sortByDate(l.entries)
}
