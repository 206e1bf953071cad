// Package checkout consumes payment-gateway checkout-completion events and
// feeds them into the redemption coordinator. Discount bookkeeping never
// blocks the underlying purchase: business rejections are logged and
// swallowed, only infrastructure failures propagate.
package checkout

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// CompletedEvent is the payment gateway's notification that a checkout
// session finished. Amounts are integer minor currency units as reported by
// the gateway. AppliedCode is empty when no promotion code was used.
type CompletedEvent struct {
	AccountID      string
	TransactionID  string
	AppliedCode    string
	OriginalAmount int64
	DiscountAmount int64
	FinalAmount    int64
}

// DecodeCompletedEvent parses the gateway's JSON payload. Unknown fields are
// skipped so gateway-side payload additions do not break the consumer.
func DecodeCompletedEvent(data []byte) (*CompletedEvent, error) {
	var ev CompletedEvent
	d := jx.DecodeBytes(data)

	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "account_id":
			ev.AccountID, err = d.Str()
		case "transaction_id":
			ev.TransactionID, err = d.Str()
		case "applied_code":
			if d.Next() == jx.Null {
				return d.Null()
			}
			ev.AppliedCode, err = d.Str()
		case "original_amount":
			ev.OriginalAmount, err = d.Int64()
		case "discount_amount":
			ev.DiscountAmount, err = d.Int64()
		case "final_amount":
			ev.FinalAmount, err = d.Int64()
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode checkout event")
	}

	if ev.AccountID == "" {
		return nil, errors.New("checkout event missing account_id")
	}
	if ev.TransactionID == "" {
		return nil, errors.New("checkout event missing transaction_id")
	}

	return &ev, nil
}
