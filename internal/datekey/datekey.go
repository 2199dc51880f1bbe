// Package datekey handles calendar-day keys of the form YYYY-MM-DD.
//
// Keys are compared with explicit year/month/day arithmetic on the proleptic
// Gregorian calendar, never by subtracting time.Time values, so a day that is
// 23 or 25 hours long still counts as one day.
package datekey

import (
	"fmt"
	"time"
)

// Layout is the key format.
const Layout = "2006-01-02"

// Date is a civil calendar date.
type Date struct {
	Year  int
	Month int
	Day   int
}

// String formats the date as a key.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Format returns the key of the calendar day t falls on in loc.
// A nil loc means UTC.
func Format(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return Date{Year: y, Month: int(m), Day: d}.String()
}

// Parse strictly parses a key. Only zero-padded YYYY-MM-DD with a real
// month and day is accepted.
func Parse(key string) (Date, error) {
	if len(key) != 10 || key[4] != '-' || key[7] != '-' {
		return Date{}, fmt.Errorf("invalid date key %q", key)
	}
	y, ok1 := digits(key[0:4])
	m, ok2 := digits(key[5:7])
	d, ok3 := digits(key[8:10])
	if !ok1 || !ok2 || !ok3 {
		return Date{}, fmt.Errorf("invalid date key %q", key)
	}
	if m < 1 || m > 12 || d < 1 || d > daysInMonth(y, m) {
		return Date{}, fmt.Errorf("date key %q out of range", key)
	}
	return Date{Year: y, Month: m, Day: d}, nil
}

// Valid reports whether key parses.
func Valid(key string) bool {
	_, err := Parse(key)
	return err == nil
}

// DaysBetween returns to - from in whole days. ok is false if either key
// fails to parse.
func DaysBetween(from, to string) (days int, ok bool) {
	a, err := Parse(from)
	if err != nil {
		return 0, false
	}
	b, err := Parse(to)
	if err != nil {
		return 0, false
	}
	return b.ordinal() - a.ordinal(), true
}

// AddDays returns the key n days after key.
func AddDays(key string, n int) (string, error) {
	d, err := Parse(key)
	if err != nil {
		return "", err
	}
	return fromOrdinal(d.ordinal() + n).String(), nil
}

func digits(s string) (int, bool) {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

func isLeap(y int) bool {
	return y%4 == 0 && (y%100 != 0 || y%400 == 0)
}

func daysInMonth(y, m int) int {
	switch m {
	case 2:
		if isLeap(y) {
			return 29
		}
		return 28
	case 4, 6, 9, 11:
		return 30
	default:
		return 31
	}
}

// ordinal is days since 1970-01-01 (Howard Hinnant's days_from_civil).
func (d Date) ordinal() int {
	y := d.Year
	if d.Month <= 2 {
		y--
	}
	era := y / 400
	if y < 0 && y%400 != 0 {
		era--
	}
	yoe := y - era*400
	mp := (d.Month + 9) % 12
	doy := (153*mp+2)/5 + d.Day - 1
	doe := yoe*365 + yoe/4 - yoe/100 + doy
	return era*146097 + doe - 719468
}

func fromOrdinal(z int) Date {
	z += 719468
	era := z / 146097
	if z < 0 && z%146097 != 0 {
		era--
	}
	doe := z - era*146097
	yoe := (doe - doe/1460 + doe/36524 - doe/146096) / 365
	y := yoe + era*400
	doy := doe - (365*yoe + yoe/4 - yoe/100)
	mp := (5*doy + 2) / 153
	d := doy - (153*mp+2)/5 + 1
	m := mp + 3
	if m > 12 {
		m -= 12
	}
	if m <= 2 {
		y++
	}
	return Date{Year: y, Month: m, Day: d}
}
