package billing

import (
	"context"
	"errors"
	"fmt"
)

// Gateway authenticates and classifies raw provider events.
// Nothing downstream runs before the signature is verified.
type Gateway struct {
	parser EventParser
}

// NewGateway returns a Gateway over parser. It panics on a nil parser.
func NewGateway(parser EventParser) *Gateway {
	if parser == nil {
		panic("billing: EventParser is required")
	}
	return &Gateway{parser: parser}
}

// SignatureHeader returns the header the provider signs requests with.
func (g *Gateway) SignatureHeader() string {
	return g.parser.SignatureHeader()
}

// Ingest verifies payload against signature and returns the classified event.
// It returns ErrInvalidSignature for inauthentic payloads and ErrMalformedEvent
// for authentic payloads that cannot be decoded.
func (g *Gateway) Ingest(ctx context.Context, payload []byte, signature string) (*Event, error) {
	if signature == "" {
		return nil, fmt.Errorf("%w: missing signature header", ErrInvalidSignature)
	}

	ev, err := g.parser.ParseEvent(ctx, payload, signature)
	switch {
	case errors.Is(err, ErrInvalidSignature):
		return nil, err
	case err != nil:
		return nil, errors.Join(ErrMalformedEvent, err)
	}

	switch ev.Kind {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		if ev.Subscription == nil || ev.Subscription.SubscriptionID == "" {
			return ev, fmt.Errorf("%w: %s without subscription", ErrMalformedEvent, ev.ProviderType)
		}
	case EventUnhandled:
	default:
		return ev, fmt.Errorf("%w: %q", ErrUnknownEventKind, ev.Kind)
	}
	return ev, nil
}
