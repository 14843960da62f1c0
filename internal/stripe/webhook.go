package stripe

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/john25coder/pizzaria-app/internal/domain/payment"
)

// eventObject holds the fields of data.object the reconciler needs.
type eventObject struct {
	ID            string
	Object        string
	PaymentIntent string
	FailureReason string
}

// ParseEvent verifies the Stripe-Signature header and extracts the intent
// the event refers to.
func (c *Client) ParseEvent(payload []byte, signature string) (*payment.Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrInvalidSignature, err)
	}

	out := &payment.Event{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return out, nil
	}

	obj, err := decodeObject(ev.Data.Raw)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s object", ev.Type)
	}
	switch obj.Object {
	case "payment_intent":
		out.IntentID = obj.ID
	default:
		out.IntentID = obj.PaymentIntent
	}
	out.FailureReason = obj.FailureReason
	return out, nil
}

func decodeObject(raw []byte) (eventObject, error) {
	var obj eventObject
	err := jx.DecodeBytes(raw).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			obj.ID, err = d.Str()
		case "object":
			obj.Object, err = d.Str()
		case "payment_intent":
			obj.PaymentIntent, err = decodeRef(d)
		case "last_payment_error":
			obj.FailureReason, err = decodeMessage(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return obj, err
}

// decodeRef reads an id that may be a string, an expanded object or null.
func decodeRef(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Object:
		var id string
		err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			if string(key) != "id" {
				return d.Skip()
			}
			var err error
			id, err = d.Str()
			return err
		})
		return id, err
	default:
		return "", d.Skip()
	}
}

func decodeMessage(d *jx.Decoder) (string, error) {
	if d.Next() != jx.Object {
		return "", d.Skip()
	}
	var msg string
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "message" {
			return d.Skip()
		}
		var err error
		msg, err = d.Str()
		return err
	})
	return msg, err
}
