package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/smallbiznis/billingcore/internal/errs"
)

const opCodec = "fee.codec"

var (
	ErrUnknownFeeType = errors.New("fee_unknown_type")
	ErrMissingData    = errors.New("fee_missing_data")
)

type envelope struct {
	Type FeeType         `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Definition is the stored form of a plan component's Fee.
type Definition struct {
	Fee Fee
}

func (d Definition) MarshalJSON() ([]byte, error) {
	if d.Fee == nil {
		return nil, errs.Serde(opCodec, ErrMissingData)
	}
	return marshalEnvelope(d.Fee.Type(), d.Fee)
}

func (d *Definition) UnmarshalJSON(raw []byte) error {
	fee, err := DecodeFee(raw)
	if err != nil {
		return err
	}
	d.Fee = fee
	return nil
}

// SubscriptionFeeDocument is the stored form of a resolved SubscriptionFee.
type SubscriptionFeeDocument struct {
	Fee SubscriptionFee
}

func (d SubscriptionFeeDocument) MarshalJSON() ([]byte, error) {
	if d.Fee == nil {
		return nil, errs.Serde(opCodec, ErrMissingData)
	}
	return marshalEnvelope(d.Fee.Type(), d.Fee)
}

func (d *SubscriptionFeeDocument) UnmarshalJSON(raw []byte) error {
	fee, err := DecodeSubscriptionFee(raw)
	if err != nil {
		return err
	}
	d.Fee = fee
	return nil
}

func EncodeFee(fee Fee) ([]byte, error) {
	return json.Marshal(Definition{Fee: fee})
}

// DecodeFee parses and validates a stored fee definition.
func DecodeFee(raw []byte) (Fee, error) {
	env, err := unmarshalEnvelope(raw)
	if err != nil {
		return nil, err
	}

	var fee Fee
	switch env.Type {
	case FeeTypeRate:
		fee, err = decodeInto[RateFee](env.Data)
	case FeeTypeSlot:
		fee, err = decodeInto[SlotFee](env.Data)
	case FeeTypeCapacity:
		fee, err = decodeInto[CapacityFee](env.Data)
	case FeeTypeUsage:
		fee, err = decodeInto[UsageFee](env.Data)
	case FeeTypeExtraRecurring:
		fee, err = decodeInto[ExtraRecurringFee](env.Data)
	case FeeTypeOneTime:
		fee, err = decodeInto[OneTimeFee](env.Data)
	default:
		return nil, errs.Serde(opCodec, fmt.Errorf("%w: %q", ErrUnknownFeeType, env.Type))
	}
	if err != nil {
		return nil, err
	}
	if err := fee.Validate(); err != nil {
		return nil, errs.Serde(opCodec, err)
	}
	return fee, nil
}

func EncodeSubscriptionFee(fee SubscriptionFee) ([]byte, error) {
	return json.Marshal(SubscriptionFeeDocument{Fee: fee})
}

func DecodeSubscriptionFee(raw []byte) (SubscriptionFee, error) {
	env, err := unmarshalEnvelope(raw)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case FeeTypeRate:
		return decodeInto[SubscriptionRate](env.Data)
	case FeeTypeSlot:
		return decodeInto[SubscriptionSlot](env.Data)
	case FeeTypeCapacity:
		return decodeInto[SubscriptionCapacity](env.Data)
	case FeeTypeUsage:
		fee, err := decodeInto[SubscriptionUsage](env.Data)
		if err != nil {
			return nil, err
		}
		if err := fee.Pricing.Validate(); err != nil {
			return nil, errs.Serde(opCodec, err)
		}
		return fee, nil
	case FeeTypeExtraRecurring:
		return decodeInto[SubscriptionRecurring](env.Data)
	case FeeTypeOneTime:
		return decodeInto[SubscriptionOneTime](env.Data)
	}
	return nil, errs.Serde(opCodec, fmt.Errorf("%w: %q", ErrUnknownFeeType, env.Type))
}

func marshalEnvelope(t FeeType, data any) ([]byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, errs.Serde(opCodec, err)
	}
	return json.Marshal(envelope{Type: t, Data: body})
}

func unmarshalEnvelope(raw []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, errs.Serde(opCodec, err)
	}
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return env, errs.Serde(opCodec, ErrMissingData)
	}
	return env, nil
}

func decodeInto[T any](data json.RawMessage) (T, error) {
	var out T
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, errs.Serde(opCodec, err)
	}
	return out, nil
}
