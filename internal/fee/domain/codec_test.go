package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/billingcore/internal/errs"
)

func TestDecodeFeeCapacity(t *testing.T) {
	raw := []byte(`{"type":"capacity","data":{"metric_id":"m-1","thresholds":[
		{"included_amount":100,"price":"12.00","per_unit_overage":"0.05"},
		{"included_amount":1000,"price":"82.00","per_unit_overage":"0.04"}]}}`)

	fee, err := DecodeFee(raw)
	require.NoError(t, err)

	capacity, ok := fee.(CapacityFee)
	require.True(t, ok)
	assert.Equal(t, "m-1", capacity.MetricID)
	require.Len(t, capacity.Thresholds, 2)
	assert.True(t, capacity.Thresholds[1].Price.Equal(d("82")))
}

func TestEncodeFeeEnvelope(t *testing.T) {
	raw, err := EncodeFee(capacityFixture())
	require.NoError(t, err)

	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.JSONEq(t, `"capacity"`, string(env["type"]))
	assert.Contains(t, string(env["data"]), `"included_amount":1000`)

	decoded, err := DecodeFee(raw)
	require.NoError(t, err)
	assert.Equal(t, FeeTypeCapacity, decoded.Type())
}

func TestDecodeFeeErrors(t *testing.T) {
	cases := map[string]string{
		"unknown type":       `{"type":"barter","data":{}}`,
		"missing data":       `{"type":"rate"}`,
		"not json":           `{"type":`,
		"unknown field":      `{"type":"one_time","data":{"unit_price":"1","quantity":1,"colour":"red"}}`,
		"tiers not at zero":  `{"type":"usage","data":{"metric_id":"m","pricing":{"model":"TIERED","rate":"0","tiers":[{"first_unit":5,"rate":"1"}]}}}`,
		"tiers descending":   `{"type":"usage","data":{"metric_id":"m","pricing":{"model":"TIERED","rate":"0","tiers":[{"first_unit":0,"rate":"1"},{"first_unit":0,"rate":"2"}]}}}`,
		"zero package block": `{"type":"usage","data":{"metric_id":"m","pricing":{"model":"PACKAGE","rate":"0","package":{"block_size":0,"rate":"1"}}}}`,
		"unknown model":      `{"type":"usage","data":{"metric_id":"m","pricing":{"model":"MYSTERY","rate":"0"}}}`,
		"duplicate term":     `{"type":"rate","data":{"rates":[{"term":"MONTHLY","price":"1"},{"term":"MONTHLY","price":"2"}]}}`,
		"externally tagged":  `{"Rate":{"rates":[{"term":"MONTHLY","price":"1"}]}}`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeFee([]byte(raw))
			require.Error(t, err)
			assert.Equal(t, errs.KindSerde, errs.KindOf(err))
		})
	}
}

func TestSubscriptionFeeDocument(t *testing.T) {
	fee := SubscriptionSlot{Unit: "seat", UnitRate: d("25"), MinSlots: ptr(uint32(1)), InitialSlots: 4}

	raw, err := EncodeSubscriptionFee(fee)
	require.NoError(t, err)

	var doc SubscriptionFeeDocument
	require.NoError(t, json.Unmarshal(raw, &doc))
	slot, ok := doc.Fee.(SubscriptionSlot)
	require.True(t, ok)
	assert.Equal(t, uint32(4), slot.InitialSlots)
	assert.True(t, slot.UnitRate.Equal(d("25")))

	_, err = DecodeSubscriptionFee([]byte(`{"type":"nope","data":{}}`))
	assert.ErrorIs(t, err, errs.ErrSerde)
}
