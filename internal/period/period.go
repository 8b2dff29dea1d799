// Package period computes the canonical period key for each challenge tier.
package period

import (
	"fmt"
	"time"
)

// AllTimeKey is the constant period key for all-time challenges. They are
// generated once per user and never roll over.
const AllTimeKey = "all-time"

// Day returns the key for the UTC calendar day containing now.
func Day(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// Week returns the key for the ISO-8601 week containing now. The ISO year is
// used rather than the calendar year so keys stay unambiguous at year
// boundaries (weeks start Monday; week 1 holds the first Thursday).
func Week(now time.Time) string {
	year, week := now.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}
