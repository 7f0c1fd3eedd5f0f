package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nazeru/storefront-checkout-go/pkg/contracts"
	"github.com/nazeru/storefront-checkout-go/pkg/kafka"
	"github.com/nazeru/storefront-checkout-go/pkg/logging"
)

const logService = "notification-service"

var retryDelay = 2 * time.Second

// Consumer reads events and commits each offset only after the notification
// is stored, so a crash replays rather than loses events.
type Consumer struct {
	reader kafka.MessageReader
	store  Store
	delay  time.Duration
}

func NewConsumer(reader kafka.MessageReader, store Store) *Consumer {
	return &Consumer{reader: reader, store: store, delay: retryDelay}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Log(logging.Fields{Service: logService, Step: "fetch", Status: "error", Error: err.Error()})
			if !c.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}
		if !c.handle(ctx, msg.Value) {
			return ctx.Err()
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logging.Log(logging.Fields{Service: logService, Step: "commit", Status: "error", Error: err.Error()})
		}
	}
}

// handle stores one message, retrying store failures. Undecodable messages
// are logged and skipped. It returns false only when ctx ends first.
func (c *Consumer) handle(ctx context.Context, value []byte) bool {
	var evt contracts.Event
	if err := json.Unmarshal(value, &evt); err != nil {
		logging.Log(logging.Fields{Service: logService, Step: "decode", Status: "skipped", Error: err.Error()})
		return true
	}
	n, err := FromEvent(evt)
	if err != nil {
		logging.Log(logging.Fields{Service: logService, OrderID: evt.OrderID, Step: evt.Type, Status: "skipped", Error: err.Error()})
		return true
	}
	for {
		created, err := c.store.Save(ctx, n)
		if err == nil {
			status := "emitted"
			if !created {
				status = "duplicate"
			}
			logging.Log(logging.Fields{Service: logService, OrderID: n.OrderID, EventID: n.EventID, Step: n.Type, Status: status})
			return true
		}
		logging.Log(logging.Fields{Service: logService, EventID: n.EventID, Step: "save", Status: "retry", Error: err.Error()})
		if !c.sleep(ctx) {
			return false
		}
	}
}

func (c *Consumer) sleep(ctx context.Context) bool {
	t := time.NewTimer(c.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
