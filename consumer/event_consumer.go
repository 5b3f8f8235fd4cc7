package consumer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bx-d/bus/buserr"
	"github.com/bx-d/bus/message"
	"github.com/bx-d/bus/transport"
)

// Listener is a callback invoked once per delivered event. Returning an
// error suppresses acknowledgement, leaving redelivery to the transport.
type Listener func(ctx context.Context, event *message.EventMessage) error

// EventConsumer runs one delivery stream: a named listener subscribed to
// one or more (api_name, event_name) pairs. The listener name is the
// subscription's stable identity — transports use it to resume a
// subscription across restarts, and instances sharing a name form one
// competing-consumer group.
type EventConsumer struct {
	listenerName string
	listenFor    []transport.ListenFor
	listener     Listener
	events       transport.EventTransport
	logger       *zap.SugaredLogger
	metrics      *Metrics

	// wanted mirrors listenFor as a set, for the cheap membership test on
	// every delivery.
	wanted map[transport.ListenFor]bool
}

// NewEventConsumer wires one listener's consumer loop. Fails with
// ErrNothingToListenFor when listenFor is empty — a subscription to nothing
// is a programmer error, caught before any transport is touched.
func NewEventConsumer(listenerName string, listenFor []transport.ListenFor, listener Listener, events transport.EventTransport, logger *zap.SugaredLogger, metrics *Metrics) (*EventConsumer, error) {
	if len(listenFor) == 0 {
		return nil, buserr.Wrapf(buserr.ErrNothingToListenFor, "listener %q", listenerName)
	}
	wanted := make(map[transport.ListenFor]bool, len(listenFor))
	for _, lf := range listenFor {
		wanted[lf] = true
	}
	return &EventConsumer{
		listenerName: listenerName,
		listenFor:    listenFor,
		listener:     listener,
		events:       events,
		logger:       logger,
		metrics:      metrics,
		wanted:       wanted,
	}, nil
}

// Run consumes events until ctx is cancelled, re-opening the stream with
// exponential backoff when the transport fails.
func (c *EventConsumer) Run(ctx context.Context) error {
	consumerContext := map[string]interface{}{"listener_name": c.listenerName}

	delay := backoffBase
	for {
		stream, err := c.events.Consume(ctx, c.listenFor, consumerContext)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Errorw("event consume stream failed, backing off",
				"listener", c.listenerName, "error", err, "delay", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = nextDelay(delay)
			continue
		}
		delay = backoffBase

		for event := range stream {
			c.deliver(ctx, event, consumerContext)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warnw("event consume stream closed, reconnecting", "listener", c.listenerName)
	}
}

// deliver invokes the listener for one event. Events outside the
// subscription are ignored without acknowledgement — a transport is allowed
// to over-deliver. A failing listener is logged and left unacknowledged so
// the transport's redelivery semantics apply.
func (c *EventConsumer) deliver(ctx context.Context, event *message.EventMessage, consumerContext map[string]interface{}) {
	if !c.wanted[transport.ListenFor{APIName: event.APIName, EventName: event.EventName}] {
		return
	}

	err := c.listener(ctx, event)
	c.metrics.observeEvent(c.listenerName, event.CanonicalName(), err)
	if err != nil {
		c.logger.Errorw("event listener failed",
			"listener", c.listenerName,
			"event", event.CanonicalName(),
			"event_id", event.ID(),
			"error", err,
		)
		return
	}

	if err := c.events.ConsumptionComplete(ctx, event, consumerContext); err != nil {
		c.logger.Errorw("failed to acknowledge event",
			"listener", c.listenerName,
			"event", event.CanonicalName(),
			"event_id", event.ID(),
			"error", err,
		)
	}
}
