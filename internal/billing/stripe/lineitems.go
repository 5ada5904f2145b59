package stripe

import (
	"context"
	"errors"
	"strings"

	stripelib "github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"

	cerrors "github.com/mtliendo/circular-dashboard-design/internal/errors"
)

// LineItemLister returns the catalog price of a checkout session's first
// purchased line item, or "" when the session has none.
type LineItemLister interface {
	FirstPriceID(ctx context.Context, sessionID string) (string, error)
}

// SessionLineItems lists line items through the Stripe API.
type SessionLineItems struct {
	client stripesession.Client
}

// NewSessionLineItems returns a lister authenticated with the Stripe secret key.
func NewSessionLineItems(secretKey string) *SessionLineItems {
	return &SessionLineItems{client: stripesession.Client{
		B:   stripelib.GetBackend(stripelib.APIBackend),
		Key: strings.TrimSpace(secretKey),
	}}
}

func (l *SessionLineItems) FirstPriceID(ctx context.Context, sessionID string) (string, error) {
	params := &stripelib.CheckoutSessionListLineItemsParams{Session: stripelib.String(sessionID)}
	params.Context = ctx
	params.Limit = stripelib.Int64(1)

	it := l.client.ListLineItems(params)
	for it.Next() {
		item := it.LineItem()
		if item.Price != nil && strings.TrimSpace(item.Price.ID) != "" {
			return item.Price.ID, nil
		}
	}
	if err := it.Err(); err != nil {
		upErr := cerrors.NewUpstreamError("list_line_items", sessionID, err)
		var stripeErr *stripelib.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode != 0 {
			upErr = upErr.WithStatusCode(stripeErr.HTTPStatusCode)
		}
		return "", upErr
	}
	return "", nil
}
