package service

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/billingcore/internal/clock"
	"github.com/smallbiznis/billingcore/internal/config"
	"github.com/smallbiznis/billingcore/internal/errs"
	feedomain "github.com/smallbiznis/billingcore/internal/fee/domain"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	pricingdomain "github.com/smallbiznis/billingcore/internal/pricing/domain"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/billingcore/internal/usage/domain"
)

const defaultExternalCallTimeout = 5 * time.Second

type Params struct {
	fx.In

	Log              *zap.Logger
	Source           usagedomain.Source
	SubscriptionRepo subscriptiondomain.Repository
	Workers          *config.WorkerConfigHolder `optional:"true"`
}

type Engine struct {
	log     *zap.Logger
	source  usagedomain.Source
	subs    subscriptiondomain.Repository
	workers *config.WorkerConfigHolder
	tracer  trace.Tracer
}

func NewEngine(p Params) *Engine {
	return &Engine{
		log:     p.Log.Named("pricing.engine"),
		source:  p.Source,
		subs:    p.SubscriptionRepo,
		workers: p.Workers,
		tracer:  otel.Tracer("billingcore/pricing"),
	}
}

func (e *Engine) PriceInvoice(ctx context.Context, invoice *invoicedomain.Invoice) ([]invoicedomain.LineItem, error) {
	sub, err := e.subs.FindByID(ctx, invoice.TenantID, invoice.SubscriptionID)
	if err != nil {
		return nil, err
	}
	components, err := e.subs.ListComponents(ctx, invoice.TenantID, invoice.SubscriptionID)
	if err != nil {
		return nil, err
	}
	return e.ComputeLines(ctx, pricingdomain.Input{
		Subscription: *sub,
		Components:   components,
		InvoiceDate:  invoice.InvoiceDate,
		Currency:     invoice.Currency,
	})
}

func (e *Engine) ComputeLines(ctx context.Context, in pricingdomain.Input) ([]invoicedomain.LineItem, error) {
	ctx, span := e.tracer.Start(ctx, "pricing.compute_lines", trace.WithAttributes(
		attribute.String("tenant_id", in.Subscription.TenantID.String()),
		attribute.String("subscription_id", in.Subscription.ID.String()),
		attribute.Int("components", len(in.Components)),
	))
	defer span.End()

	run := &pricingRun{
		engine:   e,
		sub:      in.Subscription,
		schedule: in.Subscription.Schedule(),
		date:     clock.Today(in.InvoiceDate),
		currency: in.Currency,
	}
	if run.currency == "" {
		run.currency = in.Subscription.Currency
	}

	components := append([]subscriptiondomain.SubscriptionComponent(nil), in.Components...)
	sort.SliceStable(components, func(i, j int) bool {
		if components[i].Position != components[j].Position {
			return components[i].Position < components[j].Position
		}
		return components[i].ID < components[j].ID
	})

	lines := make([]invoicedomain.LineItem, 0, len(components))
	for _, component := range components {
		componentLines, err := run.component(ctx, component)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "pricing failed")
			return nil, err
		}
		lines = append(lines, componentLines...)
	}

	span.SetAttributes(attribute.Int("lines", len(lines)))
	e.log.Debug("pricing.lines.computed",
		zap.String("tenant_id", in.Subscription.TenantID.String()),
		zap.String("subscription_id", in.Subscription.ID.String()),
		zap.Time("invoice_date", run.date),
		zap.Int("lines", len(lines)),
	)
	return lines, nil
}

func (e *Engine) callTimeout() time.Duration {
	if e.workers == nil {
		return defaultExternalCallTimeout
	}
	if d := e.workers.Get().ExternalCallTimeout; d > 0 {
		return d
	}
	return defaultExternalCallTimeout
}

func (e *Engine) fetchSlots(ctx context.Context, sub subscriptiondomain.Subscription, componentID snowflake.ID, asOf time.Time) (uint32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.callTimeout())
	defer cancel()
	count, err := e.source.FetchSlots(ctx, sub.TenantID, sub.ID, componentID, asOf)
	if err != nil {
		return 0, errs.FromContext("pricing.fetch_slots", err)
	}
	return count, nil
}

func (e *Engine) fetchUsage(ctx context.Context, sub subscriptiondomain.Subscription, metricID string, dimensions map[string]string, span subscriptiondomain.Span) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, e.callTimeout())
	defer cancel()
	qty, err := e.source.FetchUsage(ctx, sub.TenantID, sub.ID, metricID, dimensions, usagedomain.Period{Start: span.Start, End: span.End})
	if err != nil {
		return decimal.Zero, errs.FromContext("pricing.fetch_usage", err)
	}
	return qty, nil
}

func (e *Engine) fetchBreakdown(ctx context.Context, source usagedomain.BreakdownSource, sub subscriptiondomain.Subscription, metricID string, span subscriptiondomain.Span) ([]usagedomain.DimensionUsage, error) {
	ctx, cancel := context.WithTimeout(ctx, e.callTimeout())
	defer cancel()
	groups, err := source.FetchUsageBreakdown(ctx, sub.TenantID, sub.ID, metricID, usagedomain.Period{Start: span.Start, End: span.End})
	if err != nil {
		return nil, errs.FromContext("pricing.fetch_usage_breakdown", err)
	}
	return groups, nil
}

// pricingRun prices the components of one subscription for one invoice date.
type pricingRun struct {
	engine   *Engine
	sub      subscriptiondomain.Subscription
	schedule subscriptiondomain.Schedule
	date     time.Time
	currency string
}

func (r *pricingRun) component(ctx context.Context, component subscriptiondomain.SubscriptionComponent) ([]invoicedomain.LineItem, error) {
	fee, err := component.ResolvedFee()
	if err != nil {
		return nil, err
	}

	switch f := fee.(type) {
	case feedomain.SubscriptionRate:
		return r.advance(component, component.Period, func(subscriptiondomain.Segment) (lineAmount, error) {
			return fixedAmount(f.Rate, decimal.NewFromInt(1)), nil
		})
	case feedomain.SubscriptionSlot:
		return r.advance(component, component.Period, func(seg subscriptiondomain.Segment) (lineAmount, error) {
			count, err := r.engine.fetchSlots(ctx, r.sub, component.ID, seg.Start)
			if err != nil {
				return lineAmount{}, err
			}
			return fixedAmount(f.UnitRate, decimal.NewFromInt(int64(f.Clamp(count)))), nil
		})
	case feedomain.SubscriptionCapacity:
		return r.capacity(ctx, component, f)
	case feedomain.SubscriptionUsage:
		return r.usage(ctx, component, f)
	case feedomain.SubscriptionRecurring:
		amount := func(subscriptiondomain.Segment) (lineAmount, error) {
			return fixedAmount(f.Rate, decimal.NewFromInt(int64(f.Quantity))), nil
		}
		if f.BillingType == feedomain.BillingTypeArrear {
			return r.arrear(component, component.Period, amount)
		}
		return r.advance(component, component.Period, amount)
	case feedomain.SubscriptionOneTime:
		return r.advance(component, feedomain.BillingPeriodOneTime, func(subscriptiondomain.Segment) (lineAmount, error) {
			return fixedAmount(f.Rate, decimal.NewFromInt(int64(f.Quantity))), nil
		})
	}
	return nil, errs.Wrap(errs.KindInvalidArgument, "pricing.component", pricingdomain.ErrUnknownFee)
}

func (r *pricingRun) capacity(ctx context.Context, component subscriptiondomain.SubscriptionComponent, f feedomain.SubscriptionCapacity) ([]invoicedomain.LineItem, error) {
	lines, err := r.advance(component, feedomain.BillingPeriodMonthly, func(subscriptiondomain.Segment) (lineAmount, error) {
		return fixedAmount(f.Rate, decimal.NewFromInt(1)), nil
	})
	if err != nil {
		return nil, err
	}

	included := decimal.NewFromBigInt(new(big.Int).SetUint64(f.Included), 0)
	overage, err := r.arrearUsage(component, feedomain.BillingPeriodMonthly, " - overage", func(seg subscriptiondomain.Segment) (lineAmount, bool, error) {
		used, err := r.engine.fetchUsage(ctx, r.sub, f.MetricID, nil, seg.Span)
		if err != nil {
			return lineAmount{}, false, err
		}
		units := used.Sub(included)
		if units.Sign() <= 0 {
			return lineAmount{}, false, nil
		}
		return lineAmount{
			Quantity:  units,
			UnitPrice: f.OverageRate,
			Amount:    feedomain.PerUnitCharge(f.OverageRate, units),
		}, true, nil
	})
	if err != nil {
		return nil, err
	}
	for i := range overage {
		overage[i].MetricID = f.MetricID
	}
	return append(lines, overage...), nil
}

func (r *pricingRun) usage(ctx context.Context, component subscriptiondomain.SubscriptionComponent, f feedomain.SubscriptionUsage) ([]invoicedomain.LineItem, error) {
	lines, err := r.arrearUsage(component, component.Period, "", func(seg subscriptiondomain.Segment) (lineAmount, bool, error) {
		amount, err := r.usageAmount(ctx, f, seg)
		return amount, err == nil, err
	})
	if err != nil {
		return nil, err
	}
	for i := range lines {
		lines[i].MetricID = f.MetricID
	}
	return lines, nil
}

func (r *pricingRun) usageAmount(ctx context.Context, f feedomain.SubscriptionUsage, seg subscriptiondomain.Segment) (lineAmount, error) {
	pricing := f.Pricing
	if pricing.Model == feedomain.UsageModelMatrix {
		return r.matrixAmount(ctx, f, seg)
	}

	qty, err := r.engine.fetchUsage(ctx, r.sub, f.MetricID, nil, seg.Span)
	if err != nil {
		return lineAmount{}, err
	}

	switch pricing.Model {
	case feedomain.UsageModelPerUnit:
		return lineAmount{Quantity: qty, UnitPrice: pricing.Rate, Amount: feedomain.PerUnitCharge(pricing.Rate, qty)}, nil
	case feedomain.UsageModelTiered:
		charges, total := feedomain.TieredCharges(pricing.Tiers, qty, pricing.BlockSize)
		subs := make([]subLine, 0, len(charges))
		for _, charge := range charges {
			subs = append(subs, tierSubLine(charge))
		}
		return lineAmount{Quantity: qty, UnitPrice: averageRate(total, qty), Amount: total, Subs: subs}, nil
	case feedomain.UsageModelVolume:
		charge, total := feedomain.VolumeCharge(pricing.Tiers, qty, pricing.BlockSize)
		out := lineAmount{Quantity: qty, UnitPrice: charge.Rate, Amount: total}
		if total.Sign() > 0 {
			out.Subs = []subLine{tierSubLine(charge)}
		}
		return out, nil
	case feedomain.UsageModelPackage:
		if pricing.Package == nil {
			return lineAmount{}, errs.Wrap(errs.KindInvalidArgument, "pricing.package", pricingdomain.ErrUnsupportedModel)
		}
		blocks, total := feedomain.PackageCharge(*pricing.Package, qty)
		out := lineAmount{Quantity: qty, UnitPrice: averageRate(total, qty), Amount: total}
		if blocks.Sign() > 0 {
			out.Subs = []subLine{{
				Name:      fmt.Sprintf("%s packages of %d", blocks.String(), pricing.Package.BlockSize),
				Quantity:  blocks,
				UnitPrice: pricing.Package.Rate,
				Amount:    total,
				Attributes: map[string]string{
					"block_size": fmt.Sprintf("%d", pricing.Package.BlockSize),
				},
			}}
		}
		return out, nil
	}
	return lineAmount{}, errs.Wrap(errs.KindInvalidArgument, "pricing.usage", pricingdomain.ErrUnsupportedModel)
}

// matrixAmount bills usage per dimension combination. Combinations recorded
// in usage without a matching rate are an error.
func (r *pricingRun) matrixAmount(ctx context.Context, f feedomain.SubscriptionUsage, seg subscriptiondomain.Segment) (lineAmount, error) {
	matrix := f.Pricing.Matrix
	if len(matrix) == 0 {
		return lineAmount{}, errs.Wrap(errs.KindInvalidArgument, "pricing.matrix", pricingdomain.ErrEmptyMatrix)
	}

	type cell struct {
		rate feedomain.MatrixRate
		qty  decimal.Decimal
	}
	var cells []cell

	if breakdown, ok := r.engine.source.(usagedomain.BreakdownSource); ok {
		groups, err := r.engine.fetchBreakdown(ctx, breakdown, r.sub, f.MetricID, seg.Span)
		if err != nil {
			return lineAmount{}, err
		}
		template := matrix[0]
		totals := make(map[string]decimal.Decimal)
		dims := make(map[string][2]*feedomain.MatrixDimension)
		for _, group := range groups {
			if group.Value.IsZero() {
				continue
			}
			dim1 := feedomain.MatrixDimension{Key: template.Dimension1.Key, Value: group.Dimensions[template.Dimension1.Key]}
			var dim2 *feedomain.MatrixDimension
			if template.Dimension2 != nil {
				dim2 = &feedomain.MatrixDimension{Key: template.Dimension2.Key, Value: group.Dimensions[template.Dimension2.Key]}
			}
			key := usagedomain.DimensionsKey(feedomain.MatrixRate{Dimension1: dim1, Dimension2: dim2}.Dimensions())
			totals[key] = totals[key].Add(group.Value)
			dims[key] = [2]*feedomain.MatrixDimension{&dim1, dim2}
		}
		keys := make([]string, 0, len(totals))
		for key := range totals {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			rate, err := feedomain.MatrixRateFor(matrix, *dims[key][0], dims[key][1])
			if err != nil {
				return lineAmount{}, err
			}
			cells = append(cells, cell{rate: rate, qty: totals[key]})
		}
	} else {
		rows := append([]feedomain.MatrixRate(nil), matrix...)
		sort.SliceStable(rows, func(i, j int) bool {
			return usagedomain.DimensionsKey(rows[i].Dimensions()) < usagedomain.DimensionsKey(rows[j].Dimensions())
		})
		for _, row := range rows {
			qty, err := r.engine.fetchUsage(ctx, r.sub, f.MetricID, row.Dimensions(), seg.Span)
			if err != nil {
				return lineAmount{}, err
			}
			if qty.IsZero() {
				continue
			}
			cells = append(cells, cell{rate: row, qty: qty})
		}
	}

	out := lineAmount{Quantity: decimal.Zero, Amount: decimal.Zero}
	for _, c := range cells {
		amount := feedomain.PerUnitCharge(c.rate.PerUnitPrice, c.qty)
		dimensions := c.rate.Dimensions()
		out.Quantity = out.Quantity.Add(c.qty)
		out.Amount = out.Amount.Add(amount)
		out.Subs = append(out.Subs, subLine{
			Name:       usagedomain.DimensionsKey(dimensions),
			Quantity:   c.qty,
			UnitPrice:  c.rate.PerUnitPrice,
			Amount:     amount,
			Attributes: dimensions,
		})
	}
	out.UnitPrice = averageRate(out.Amount, out.Quantity)
	return out, nil
}

// lineAmount is a priced quantity in major units before proration.
type lineAmount struct {
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	Amount    decimal.Decimal
	Subs      []subLine
}

type subLine struct {
	Name       string
	Quantity   decimal.Decimal
	UnitPrice  decimal.Decimal
	Amount     decimal.Decimal
	Attributes map[string]string
}

func fixedAmount(rate, qty decimal.Decimal) lineAmount {
	return lineAmount{Quantity: qty, UnitPrice: rate, Amount: qty.Mul(rate)}
}

func tierSubLine(charge feedomain.TierCharge) subLine {
	name := fmt.Sprintf("%d+", charge.FirstUnit)
	attrs := map[string]string{"first_unit": fmt.Sprintf("%d", charge.FirstUnit)}
	if charge.LastUnit != nil {
		name = fmt.Sprintf("%d-%d", charge.FirstUnit, *charge.LastUnit)
		attrs["last_unit"] = fmt.Sprintf("%d", *charge.LastUnit)
	}
	if !charge.FlatFee.IsZero() {
		attrs["flat_fee"] = charge.FlatFee.String()
	}
	return subLine{Name: name, Quantity: charge.Units, UnitPrice: charge.Rate, Amount: charge.Amount, Attributes: attrs}
}

func averageRate(total, qty decimal.Decimal) decimal.Decimal {
	if qty.Sign() <= 0 {
		return decimal.Zero
	}
	return total.DivRound(qty, 8)
}
