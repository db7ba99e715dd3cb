package checkout

import (
	"context"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/stridekart/checkout/internal/kafka"
	"github.com/stridekart/checkout/internal/orders"
)

// Emitter publishes order lifecycle events, one producer per topic.
type Emitter struct {
	Placed    *kafkax.Producer
	Confirmed *kafkax.Producer
	Cancelled *kafkax.Producer
	Service   string
}

func (e *Emitter) OrderPlaced(ctx context.Context, o orders.Order) {
	e.publish(e.Placed, orders.EventOrderPlaced, o.ID, orders.OrderPlacedPayload{
		OrderID:    o.ID,
		UserID:     o.UserID,
		Items:      o.Items,
		Method:     o.Method,
		TotalCents: o.TotalCents,
	})
}

func (e *Emitter) OrderConfirmed(ctx context.Context, o orders.Order) {
	e.publish(e.Confirmed, orders.EventOrderConfirmed, o.ID, orders.OrderConfirmedPayload{
		OrderID:         o.ID,
		AmountPaidCents: o.AmountPaid,
		AmountDueCents:  o.AmountDue,
	})
}

func (e *Emitter) OrderCancelled(ctx context.Context, o orders.Order, reason string) {
	e.publish(e.Cancelled, orders.EventOrderCancelled, o.ID, orders.OrderCancelledPayload{
		OrderID: o.ID,
		Reason:  reason,
	})
}

func (e *Emitter) publish(p *kafkax.Producer, eventType, orderID string, payload any) {
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      e.Service,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
