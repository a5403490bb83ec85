package calendar

import "time"

const (
	firstSupportedYear = 1990
	lastSupportedYear  = 2099
)

// newNYSE returns the US equity calendar shared by NYSE and NASDAQ.
func newNYSE(loc *time.Location) *Exchange {
	return &Exchange{
		name:       "NYSE",
		location:   loc,
		open:       clock{9, 30},
		close:      clock{16, 0},
		earlyClose: clock{13, 0},
		firstYear:  firstSupportedYear,
		lastYear:   lastSupportedYear,
		rules:      nyseRules,
		years:      make(map[int]yearTable),
	}
}

// newXLON returns the London Stock Exchange calendar.
func newXLON(loc *time.Location) *Exchange {
	return &Exchange{
		name:       "XLON",
		location:   loc,
		open:       clock{8, 0},
		close:      clock{16, 30},
		earlyClose: clock{12, 30},
		firstYear:  firstSupportedYear,
		lastYear:   lastSupportedYear,
		rules:      xlonRules,
		years:      make(map[int]yearTable),
	}
}

// nyseSpecialClosures are unscheduled full-day closures.
var nyseSpecialClosures = []time.Time{
	date(1994, time.April, 27), // President Nixon funeral
	date(2001, time.September, 11),
	date(2001, time.September, 12),
	date(2001, time.September, 13),
	date(2001, time.September, 14),
	date(2004, time.June, 11),    // President Reagan funeral
	date(2007, time.January, 2),  // President Ford funeral
	date(2012, time.October, 29), // Hurricane Sandy
	date(2012, time.October, 30),
	date(2018, time.December, 5), // President G.H.W. Bush funeral
	date(2025, time.January, 9),  // President Carter funeral
}

func nyseRules(year int) (map[dateKey]bool, map[dateKey]bool) {
	holidays := make(map[dateKey]bool)
	early := make(map[dateKey]bool)
	add := func(t time.Time) { holidays[keyOf(t)] = true }

	// New Year's Day falling on Saturday is not observed on the prior Friday.
	if ny := date(year, time.January, 1); ny.Weekday() == time.Sunday {
		add(ny.AddDate(0, 0, 1))
	} else if ny.Weekday() != time.Saturday {
		add(ny)
	}
	if year >= 1998 {
		add(nthWeekday(year, time.January, time.Monday, 3))
	}
	add(nthWeekday(year, time.February, time.Monday, 3))
	add(easter(year).AddDate(0, 0, -2))
	add(lastWeekday(year, time.May, time.Monday))
	if year >= 2022 {
		add(observed(date(year, time.June, 19)))
	}
	add(observed(date(year, time.July, 4)))
	add(nthWeekday(year, time.September, time.Monday, 1))
	thanksgiving := nthWeekday(year, time.November, time.Thursday, 4)
	add(thanksgiving)
	add(observed(date(year, time.December, 25)))

	for _, d := range nyseSpecialClosures {
		if d.Year() == year {
			add(d)
		}
	}

	markEarly := func(t time.Time) {
		if isWeekday(t) && !holidays[keyOf(t)] {
			early[keyOf(t)] = true
		}
	}
	markEarly(date(year, time.July, 3))
	markEarly(thanksgiving.AddDate(0, 0, 1))
	markEarly(date(year, time.December, 24))

	return holidays, early
}

// xlonSpecialClosures are one-off UK bank holidays.
var xlonSpecialClosures = []time.Time{
	date(1999, time.December, 31),
	date(2011, time.April, 29),
	date(2012, time.June, 5),
	date(2022, time.June, 3),
	date(2022, time.September, 19),
	date(2023, time.May, 8),
}

func xlonRules(year int) (map[dateKey]bool, map[dateKey]bool) {
	holidays := make(map[dateKey]bool)
	early := make(map[dateKey]bool)
	add := func(t time.Time) { holidays[keyOf(t)] = true }

	add(nextWeekday(date(year, time.January, 1)))
	e := easter(year)
	add(e.AddDate(0, 0, -2))
	add(e.AddDate(0, 0, 1))

	switch year {
	case 1995:
		add(date(year, time.May, 8))
	case 2020:
		add(date(year, time.May, 8))
	default:
		add(nthWeekday(year, time.May, time.Monday, 1))
	}

	switch year {
	case 2002, 2012:
		add(date(year, time.June, 4))
	case 2022:
		add(date(year, time.June, 2))
	default:
		add(lastWeekday(year, time.May, time.Monday))
	}

	add(lastWeekday(year, time.August, time.Monday))

	// Christmas and Boxing Day each roll forward past the weekend and past each other.
	christmas := nextWeekday(date(year, time.December, 25))
	add(christmas)
	boxing := nextWeekday(date(year, time.December, 26))
	if keyOf(boxing) == keyOf(christmas) {
		boxing = nextWeekday(boxing.AddDate(0, 0, 1))
	}
	add(boxing)

	for _, d := range xlonSpecialClosures {
		if d.Year() == year {
			add(d)
		}
	}

	for _, d := range []time.Time{date(year, time.December, 24), date(year, time.December, 31)} {
		if isWeekday(d) && !holidays[keyOf(d)] {
			early[keyOf(d)] = true
		}
	}

	return holidays, early
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func isWeekday(t time.Time) bool {
	return t.Weekday() != time.Saturday && t.Weekday() != time.Sunday
}

// observed moves a Saturday holiday to Friday and a Sunday holiday to Monday.
func observed(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		return t.AddDate(0, 0, -1)
	case time.Sunday:
		return t.AddDate(0, 0, 1)
	}
	return t
}

// nextWeekday moves a weekend date forward to Monday.
func nextWeekday(t time.Time) time.Time {
	for !isWeekday(t) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// nthWeekday returns the n-th (1-based) given weekday of a month.
func nthWeekday(year int, month time.Month, wd time.Weekday, n int) time.Time {
	first := date(year, month, 1)
	offset := (int(wd) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+7*(n-1))
}

// lastWeekday returns the last given weekday of a month.
func lastWeekday(year int, month time.Month, wd time.Weekday) time.Time {
	last := date(year, month+1, 0)
	offset := (int(last.Weekday()) - int(wd) + 7) % 7
	return last.AddDate(0, 0, -offset)
}

// easter returns Western Easter Sunday (anonymous Gregorian algorithm).
func easter(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return date(year, time.Month(month), day)
}
