package domain

import (
	"time"

	feedomain "github.com/smallbiznis/billingcore/internal/fee/domain"
)

// Schedule computes invoice dates for a subscription. Dates are UTC midnights.
//
// The anchor is the first date on or after Start whose day of month is the
// billing day, clamped to the month length. Invoices fall on Start (when it
// differs from the anchor) and then every cadence months from the anchor.
type Schedule struct {
	Start      time.Time
	BillingDay int
	Cadence    int
}

func NewSchedule(start time.Time, billingDay int, period feedomain.BillingPeriod) Schedule {
	start = truncateDate(start)
	if billingDay < 1 || billingDay > 31 {
		billingDay = start.Day()
	}
	cadence := period.Months()
	if cadence <= 0 {
		cadence = 1
	}
	return Schedule{Start: start, BillingDay: billingDay, Cadence: cadence}
}

// Span is a half-open date range [Start, End).
type Span struct {
	Start time.Time
	End   time.Time
}

func (s Span) Days() int {
	return daysBetween(s.Start, s.End)
}

// Segment is the part of a billed span that falls inside one fee term.
type Segment struct {
	Span
	Term Span
}

// Full reports whether the segment covers its whole term.
func (s Segment) Full() bool {
	return s.Start.Equal(s.Term.Start) && s.End.Equal(s.Term.End)
}

func (s Schedule) Anchor() time.Time {
	candidate := s.dayIn(s.Start.Year(), s.Start.Month())
	if candidate.Before(s.Start) {
		return s.monthOffset(s.Start, 1)
	}
	return candidate
}

// First is the first invoice date.
func (s Schedule) First() time.Time {
	return s.Start
}

// Next returns the first invoice date strictly after t.
func (s Schedule) Next(t time.Time) time.Time {
	t = truncateDate(t)
	if t.Before(s.Start) {
		return s.Start
	}
	anchor := s.Anchor()
	if t.Before(anchor) {
		return anchor
	}
	k := monthsBetween(anchor, t)/s.Cadence - 1
	if k < 0 {
		k = 0
	}
	for !s.anchorPlus(k * s.Cadence).After(t) {
		k++
	}
	return s.anchorPlus(k * s.Cadence)
}

// Prev returns the last invoice date strictly before t.
func (s Schedule) Prev(t time.Time) (time.Time, bool) {
	t = truncateDate(t)
	if !t.After(s.Start) {
		return time.Time{}, false
	}
	anchor := s.Anchor()
	if !t.After(anchor) {
		return s.Start, true
	}
	k := monthsBetween(anchor, t)/s.Cadence + 1
	for k >= 0 && !s.anchorPlus(k*s.Cadence).Before(t) {
		k--
	}
	if k < 0 {
		return s.Start, true
	}
	return s.anchorPlus(k * s.Cadence), true
}

// IsInvoiceDate reports whether an invoice is due on t.
func (s Schedule) IsInvoiceDate(t time.Time) bool {
	t = truncateDate(t)
	return !t.Before(s.Start) && s.Next(t.AddDate(0, 0, -1)).Equal(t)
}

// IsFirst reports whether t is the subscription's first invoice date.
func (s Schedule) IsFirst(t time.Time) bool {
	return truncateDate(t).Equal(s.Start)
}

// Period returns the advance period billed by the invoice dated t.
func (s Schedule) Period(t time.Time) Span {
	t = truncateDate(t)
	return Span{Start: t, End: s.Next(t)}
}

// ArrearPeriod returns the span billed in arrears on t. Nothing is owed in
// arrears on the first invoice.
func (s Schedule) ArrearPeriod(t time.Time) (Span, bool) {
	prev, ok := s.Prev(t)
	if !ok {
		return Span{}, false
	}
	return Span{Start: prev, End: truncateDate(t)}, true
}

// DatesBetween lists invoice dates within [from, to].
func (s Schedule) DatesBetween(from, to time.Time) []time.Time {
	from, to = truncateDate(from), truncateDate(to)
	var out []time.Time
	for d := s.Next(from.AddDate(0, 0, -1)); !d.After(to); d = s.Next(d) {
		out = append(out, d)
	}
	return out
}

// TermContaining returns the term of termMonths, aligned on the anchor, that contains t.
func (s Schedule) TermContaining(t time.Time, termMonths int) Span {
	t = truncateDate(t)
	anchor := s.Anchor()
	j := floorDiv(monthsBetween(anchor, t), termMonths) + 1
	for s.anchorPlus(j * termMonths).After(t) {
		j--
	}
	for !s.anchorPlus((j + 1) * termMonths).After(t) {
		j++
	}
	return Span{Start: s.anchorPlus(j * termMonths), End: s.anchorPlus((j + 1) * termMonths)}
}

// Split cuts span on the boundaries of termMonths terms.
func (s Schedule) Split(span Span, termMonths int) []Segment {
	if termMonths <= 0 || !span.End.After(span.Start) {
		return nil
	}
	var out []Segment
	for cur := span.Start; cur.Before(span.End); {
		term := s.TermContaining(cur, termMonths)
		end := term.End
		if end.After(span.End) {
			end = span.End
		}
		out = append(out, Segment{Span: Span{Start: cur, End: end}, Term: term})
		cur = end
	}
	return out
}

func (s Schedule) anchorPlus(months int) time.Time {
	return s.monthOffset(s.Anchor(), months)
}

func (s Schedule) monthOffset(base time.Time, months int) time.Time {
	total := int(base.Month()) - 1 + months
	year := base.Year() + floorDiv(total, 12)
	month := time.Month(total - floorDiv(total, 12)*12 + 1)
	return s.dayIn(year, month)
}

func (s Schedule) dayIn(year int, month time.Month) time.Time {
	day := s.BillingDay
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func monthsBetween(from, to time.Time) int {
	return (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
}

func daysBetween(from, to time.Time) int {
	return int(truncateDate(to).Sub(truncateDate(from)).Hours() / 24)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func truncateDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
