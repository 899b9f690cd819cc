package shared

import (
	"regexp"
	"strconv"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// ChatID identifies a Telegram chat. Group and supergroup ids are negative,
// so only zero is rejected.
type ChatID int64

// IsValid checks if the chat ID is set.
func (c ChatID) IsValid() bool {
	return c != 0
}

// Int64 returns the underlying int64 value.
func (c ChatID) Int64() int64 {
	return int64(c)
}

// String returns the string representation.
func (c ChatID) String() string {
	return strconv.FormatInt(int64(c), 10)
}

// UserID identifies a Telegram user.
type UserID int64

// IsValid checks if the user ID is valid (positive number).
func (u UserID) IsValid() bool {
	return u > 0
}

// Int64 returns the underlying int64 value.
func (u UserID) Int64() int64 {
	return int64(u)
}

// String returns the string representation.
func (u UserID) String() string {
	return strconv.FormatInt(int64(u), 10)
}

// ═══════════════════════════════════════════════════════════════════════════
// Month Tag Value Object
// ═══════════════════════════════════════════════════════════════════════════

// MonthTag identifies a calendar month as "YYYY-MM". Tags sort
// lexicographically in chronological order.
type MonthTag string

const monthTagLayout = "2006-01"

var monthTagRegex = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// MonthOf returns the tag of the month containing t, in t's location.
func MonthOf(t time.Time) MonthTag {
	return MonthTag(t.Format(monthTagLayout))
}

// ParseMonthTag validates a "YYYY-MM" string.
func ParseMonthTag(s string) (MonthTag, error) {
	if !monthTagRegex.MatchString(s) {
		return "", NewDomainError("shared", "ParseMonthTag", ErrInvalidFormat, "month tag must be YYYY-MM")
	}
	return MonthTag(s), nil
}

// IsValid checks if the tag has the "YYYY-MM" shape.
func (m MonthTag) IsValid() bool {
	return monthTagRegex.MatchString(string(m))
}

// IsZero reports whether no month has been recorded.
func (m MonthTag) IsZero() bool {
	return m == ""
}

// Before reports whether m is strictly earlier than other. The empty tag is
// earlier than every real month.
func (m MonthTag) Before(other MonthTag) bool {
	return m < other
}

// String returns the string representation.
func (m MonthTag) String() string {
	return string(m)
}

// Start returns the first instant of the month in loc.
func (m MonthTag) Start(loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(monthTagLayout, string(m), loc)
	if err != nil {
		return time.Time{}, WrapError("shared", "MonthTag.Start", ErrInvalidFormat, "bad month tag", err)
	}
	return t, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Medal
// ═══════════════════════════════════════════════════════════════════════════

// Medal returns a medal emoji for podium positions.
func Medal(position int) string {
	switch position {
	case 1:
		return "🥇"
	case 2:
		return "🥈"
	case 3:
		return "🥉"
	default:
		return ""
	}
}
