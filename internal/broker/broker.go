package broker

import (
	"context"
	"errors"
	"time"

	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/models"
)

// ErrNoEvent is the normal answer to a Receive that times out with nothing
// matching the subscription's selector.
var ErrNoEvent = errors.New("no event available")

// ErrClosed is returned from operations on a closed broker or subscription.
var ErrClosed = errors.New("broker is closed")

// Broker is the event bus the job office and its pipelines talk through.
// Topics are durable and support any number of independent subscriptions;
// content filtering uses the selector language of ParseSelector.
type Broker interface {
	// Publish sends an event on a topic.
	Publish(ctx context.Context, topic string, ev *models.Event) error

	// Subscribe opens an independent subscription on a topic. An empty
	// selector matches everything.
	Subscribe(topic, selector string) (Subscription, error)

	// Close releases the broker connection.
	Close() error
}

// Subscription is one consumer position on one topic.
type Subscription interface {
	// Receive returns the next matching event, waiting up to timeout.
	// It returns ErrNoEvent when nothing arrives in time; a zero timeout
	// polls without blocking.
	Receive(timeout time.Duration) (*models.Event, error)

	// Close releases the subscription.
	Close() error
}
