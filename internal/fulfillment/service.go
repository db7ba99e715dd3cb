package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/stridekart/checkout/internal/kafka"
	"github.com/stridekart/checkout/internal/orders"
	"github.com/stridekart/checkout/internal/redisx"
)

// StatusUpdater is the slice of the ledger fulfillment needs.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id string, next orders.Status) (orders.Order, error)
}

// Service picks up confirmed orders and moves them into PROCESSING so
// the warehouse queue sees them. Wired as a consumer handler.
type Service struct {
	Ledger      StatusUpdater
	Redis       *redis.Client
	ServiceName string
}

func (s *Service) HandleOrderConfirmed(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != orders.EventOrderConfirmed {
		return nil
	}

	// dedup on event_id: redelivery must not double-handle
	dkey := fmt.Sprintf(redisx.KeyDedup, "fulfillment", env.EventID)
	exists, _ := redisx.Exists(ctx, s.Redis, dkey)
	if exists {
		return nil
	}
	_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()

	p, err := kafkax.UnwrapPayload[orders.OrderConfirmedPayload](env.Payload)
	if err != nil {
		return err
	}

	_, err = s.Ledger.UpdateStatus(ctx, p.OrderID, orders.StatusProcessing)
	if errors.Is(err, orders.ErrInvalidTransition) {
		// already progressed past CONFIRMED (or cancelled by a refund);
		// the event is stale, drop it
		log.Printf("fulfillment: order %s not in CONFIRMED, skipping", p.OrderID)
		return nil
	}
	return err
}
