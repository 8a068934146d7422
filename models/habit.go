package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// CheckInStatus is the outcome recorded for a habit on one calendar day.
type CheckInStatus string

const (
	CheckInCompleted CheckInStatus = "completed"
	CheckInMissed    CheckInStatus = "missed"
)

// ErrInvalidStatus is returned for any status other than completed or missed.
var ErrInvalidStatus = errors.New(`check-in status must be "completed" or "missed"`)

// Valid reports whether s is one of the two allowed statuses.
func (s CheckInStatus) Valid() bool {
	return s == CheckInCompleted || s == CheckInMissed
}

// ParseCheckInStatus converts raw request input into a CheckInStatus.
func ParseCheckInStatus(raw string) (CheckInStatus, error) {
	s := CheckInStatus(raw)
	if !s.Valid() {
		return "", ErrInvalidStatus
	}
	return s, nil
}

// CheckIn stores the status of a habit for a single calendar day.
// Date holds the civil day at midnight UTC.
type CheckIn struct {
	ID        uint          `gorm:"primaryKey" json:"-"`
	HabitID   uint          `gorm:"uniqueIndex:idx_checkin_habit_date;not null" json:"-"`
	Date      time.Time     `gorm:"uniqueIndex:idx_checkin_habit_date;type:date;not null" json:"date"`
	Status    CheckInStatus `gorm:"size:16;not null" json:"status"`
	CreatedAt time.Time     `json:"-"`
	UpdatedAt time.Time     `json:"-"`
}

// Habit is a recurring activity owned by exactly one user.
// CurrentStreak and LongestStreak are derived from CheckIns and are never set by clients.
type Habit struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"index;not null" json:"owner"`
	Name          string    `gorm:"size:255;not null" json:"name"`
	TargetDays    Weekdays  `gorm:"type:varchar(128);not null" json:"targetDays"`
	StartDate     time.Time `gorm:"not null" json:"startDate"`
	CheckIns      []CheckIn `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"checkIns"`
	CurrentStreak int       `gorm:"not null;default:0" json:"currentStreak"`
	LongestStreak int       `gorm:"not null;default:0" json:"longestStreak"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// weekdayNames maps accepted names to their time.Weekday.
var weekdayNames = map[string]time.Weekday{
	"Sunday":    time.Sunday,
	"Monday":    time.Monday,
	"Tuesday":   time.Tuesday,
	"Wednesday": time.Wednesday,
	"Thursday":  time.Thursday,
	"Friday":    time.Friday,
	"Saturday":  time.Saturday,
}

// Weekdays is the set of weekday names a habit targets, persisted as a JSON array.
type Weekdays []string

// ParseWeekdays validates names, drops duplicates and orders the result Sunday first.
func ParseWeekdays(names []string) (Weekdays, error) {
	if len(names) == 0 {
		return nil, errors.New("targetDays must not be empty")
	}
	seen := make(map[time.Weekday]bool, len(names))
	days := make([]time.Weekday, 0, len(names))
	for _, n := range names {
		d, ok := weekdayNames[n]
		if !ok {
			return nil, fmt.Errorf("invalid weekday %q", n)
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	out := make(Weekdays, len(days))
	for i, d := range days {
		out[i] = d.String()
	}
	return out, nil
}

// Value implements driver.Valuer.
func (w Weekdays) Value() (driver.Value, error) {
	if w == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(w))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (w *Weekdays) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*w = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported weekdays column type %T", src)
	}
	if len(raw) == 0 {
		*w = nil
		return nil
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return fmt.Errorf("decode weekdays: %w", err)
	}
	*w = Weekdays(names)
	return nil
}
