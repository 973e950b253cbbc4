package service

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	feedomain "github.com/smallbiznis/billingcore/internal/fee/domain"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
)

type amountFunc func(seg subscriptiondomain.Segment) (lineAmount, error)

// usageFunc reports false when the segment produces no line.
type usageFunc func(seg subscriptiondomain.Segment) (lineAmount, bool, error)

// advance bills a fee for the period starting on the invoice date, one
// prorated line per term segment.
func (r *pricingRun) advance(component subscriptiondomain.SubscriptionComponent, period feedomain.BillingPeriod, price amountFunc) ([]invoicedomain.LineItem, error) {
	segments := r.advanceSegments(period)
	lines := make([]invoicedomain.LineItem, 0, len(segments))
	for _, seg := range segments {
		amount, err := price(seg)
		if err != nil {
			return nil, err
		}
		lines = append(lines, r.line(component, "", feedomain.BillingTypeAdvance, seg, amount, true))
	}
	return lines, nil
}

// arrear bills a fixed fee for the period that ended on the invoice date.
func (r *pricingRun) arrear(component subscriptiondomain.SubscriptionComponent, period feedomain.BillingPeriod, price amountFunc) ([]invoicedomain.LineItem, error) {
	segments := r.arrearSegments(period)
	lines := make([]invoicedomain.LineItem, 0, len(segments))
	for _, seg := range segments {
		amount, err := price(seg)
		if err != nil {
			return nil, err
		}
		lines = append(lines, r.line(component, "", feedomain.BillingTypeArrear, seg, amount, true))
	}
	return lines, nil
}

// arrearUsage bills metered usage for the period that ended on the invoice
// date. Usage is never prorated.
func (r *pricingRun) arrearUsage(component subscriptiondomain.SubscriptionComponent, period feedomain.BillingPeriod, suffix string, price usageFunc) ([]invoicedomain.LineItem, error) {
	segments := r.arrearSegments(period)
	lines := make([]invoicedomain.LineItem, 0, len(segments))
	for _, seg := range segments {
		amount, ok, err := price(seg)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		lines = append(lines, r.line(component, suffix, feedomain.BillingTypeArrear, seg, amount, false))
	}
	return lines, nil
}

func (r *pricingRun) advanceSegments(period feedomain.BillingPeriod) []subscriptiondomain.Segment {
	span := r.schedule.Period(r.date)
	if !period.Recurring() {
		if !r.schedule.IsFirst(r.date) {
			return nil
		}
		return []subscriptiondomain.Segment{{Span: span, Term: span}}
	}

	termMonths := period.Months()
	if termMonths <= r.schedule.Cadence {
		return r.schedule.Split(span, termMonths)
	}

	term := r.schedule.TermContaining(r.date, termMonths)
	if !term.Start.Equal(r.date) && !r.schedule.IsFirst(r.date) {
		return nil
	}
	return []subscriptiondomain.Segment{{
		Span: subscriptiondomain.Span{Start: r.date, End: term.End},
		Term: term,
	}}
}

func (r *pricingRun) arrearSegments(period feedomain.BillingPeriod) []subscriptiondomain.Segment {
	span, ok := r.schedule.ArrearPeriod(r.date)
	if !ok {
		return nil
	}
	months := period.Months()
	if months <= 0 {
		months = r.schedule.Cadence
	}
	return r.schedule.Split(span, months)
}

func (r *pricingRun) line(component subscriptiondomain.SubscriptionComponent, suffix string, billingType feedomain.BillingType, seg subscriptiondomain.Segment, amount lineAmount, prorate bool) invoicedomain.LineItem {
	total := amount.Amount
	var factor *decimal.Decimal
	if prorate && !seg.Full() && seg.Term.Days() > 0 {
		days := decimal.NewFromInt(int64(seg.Days()))
		termDays := decimal.NewFromInt(int64(seg.Term.Days()))
		f := days.DivRound(termDays, 6)
		factor = &f
		total = total.Mul(days).Div(termDays)
	}

	priceComponentID := component.PriceComponentID
	item := invoicedomain.LineItem{
		ID:               fmt.Sprintf("%d-%s-%s", component.ID, strings.ToLower(string(billingType)), seg.Start.Format("20060102")),
		Name:             component.Name + suffix,
		PriceComponentID: &priceComponentID,
		Quantity:         amount.Quantity,
		UnitPrice:        feedomain.ToMinor(amount.UnitPrice, r.currency),
		Total:            feedomain.ToMinorInt(total, r.currency),
		Start:            seg.Start,
		End:              seg.End,
		BillingType:      billingType,
		ProrationFactor:  factor,
	}
	var subTotal int64
	for _, sub := range amount.Subs {
		minor := feedomain.ToMinorInt(sub.Amount, r.currency)
		subTotal += minor
		item.SubLines = append(item.SubLines, invoicedomain.SubLineItem{
			Name:       sub.Name,
			Quantity:   sub.Quantity,
			UnitPrice:  feedomain.ToMinor(sub.UnitPrice, r.currency),
			Total:      minor,
			Attributes: sub.Attributes,
		})
	}
	// The line shows what its sub-lines add up to after rounding.
	if len(item.SubLines) > 0 && factor == nil {
		item.Total = subTotal
	}
	return item
}
