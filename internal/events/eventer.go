// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"runtime"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/alexdrl/zerowater"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// TopicEvents carries processed normalized events.
	TopicEvents = "watcher.events"
	// TopicErrors carries errors from the event path.
	TopicErrors = "watcher.errors"
	// TopicLifecycle carries started/stopped notifications.
	TopicLifecycle = "watcher.lifecycle"

	// ProviderKey is the metadata key holding the provider name.
	ProviderKey = "provider"
	// LifecycleKey is the metadata key holding the lifecycle state name.
	LifecycleKey = "state"

	// LifecycleStarted is published on TopicLifecycle once startup completes.
	LifecycleStarted = "started"
	// LifecycleStopped is published on TopicLifecycle once shutdown completes.
	LifecycleStopped = "stopped"
)

// Handler is an alias for the watermill handler type, which is both wordy and
// may be detail we don't want to expose.
type Handler = message.NoPublishHandlerFunc

// Registrar provides an interface which allows an event router to expose
// itself to event consumers.
type Registrar interface {
	// Register requests that the message router calls handler for each
	// message on topic. It is valid to call Register multiple times with
	// the same topic and different handler functions.
	Register(topic string, handler Handler)

	// ConsumeEvents registers all the consumers with the registrar
	ConsumeEvents(consumers ...Consumer)
}

// Consumer is an interface implemented by components which wish to consume
// events.
type Consumer interface {
	Register(Registrar)
}

// Eventer wraps the watermill router and the in-process pub/sub channel so
// they are easily accessible and configurable.
type Eventer struct {
	router     *message.Router
	publisher  message.Publisher
	subscriber message.Subscriber
}

var _ Registrar = (*Eventer)(nil)
var _ message.Publisher = (*Eventer)(nil)

// Setup creates an Eventer which isolates the watermill setup code.
func Setup(ctx context.Context) (*Eventer, error) {
	l := zerowater.NewZerologLoggerAdapter(
		zerolog.Ctx(ctx).With().Str("component", "watermill").Logger())
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: time.Second * 10}, l)
	if err != nil {
		return nil, err
	}

	router.AddMiddleware(
		// CorrelationID copies the correlation id from the incoming
		// message's metadata to the produced messages.
		middleware.CorrelationID,

		// Recoverer handles panics from handlers and surfaces them as
		// errors, so one bad subscriber cannot take the router down.
		middleware.Recoverer,
	)

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		Persistent: false,
	}, l)

	return &Eventer{
		router:     router,
		publisher:  pubsub,
		subscriber: pubsub,
	}, nil
}

// Close closes the router
func (e *Eventer) Close() error {
	return e.router.Close()
}

// Run runs the router, blocks until the router is closed
func (e *Eventer) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}

// Running returns a channel which allows you to wait until the
// event router has started.
func (e *Eventer) Running() chan struct{} {
	return e.router.Running()
}

// Publish implements message.Publisher
func (e *Eventer) Publish(topic string, messages ...*message.Message) error {
	return e.publisher.Publish(topic, messages...)
}

// PublishEvent publishes a normalized event on TopicEvents. Subscriber
// failures never propagate to the caller.
func (e *Eventer) PublishEvent(provider string, evt *NormalizedEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", evt.ID, err)
	}

	msg := message.NewMessage(uuid.New().String(), payload)
	msg.Metadata.Set(ProviderKey, provider)
	return e.Publish(TopicEvents, msg)
}

// PublishError publishes an event-path error on TopicErrors.
func (e *Eventer) PublishError(provider string, evtErr error) error {
	msg := message.NewMessage(uuid.New().String(), []byte(evtErr.Error()))
	msg.Metadata.Set(ProviderKey, provider)
	return e.Publish(TopicErrors, msg)
}

// PublishLifecycle publishes a started/stopped notification.
func (e *Eventer) PublishLifecycle(state string) error {
	msg := message.NewMessage(uuid.New().String(), []byte(state))
	msg.Metadata.Set(LifecycleKey, state)
	return e.Publish(TopicLifecycle, msg)
}

// Register subscribes to a topic and handles incoming messages. Handler
// errors are logged and swallowed so that the loop continues.
func (e *Eventer) Register(
	topic string,
	handler message.NoPublishHandlerFunc,
) {
	funcName := fmt.Sprintf("%s-%s", runtime.FuncForPC(reflect.ValueOf(handler).Pointer()).Name(), topic)
	e.router.AddNoPublisherHandler(
		funcName,
		topic,
		e.subscriber,
		func(msg *message.Message) error {
			if err := handler(msg); err != nil {
				e.router.Logger().Error("Found error handling message", err, watermill.LogFields{
					"message_uuid": msg.UUID,
					"topic":        topic,
					"handler":      funcName,
				})
			}
			// always ack; event processing is best-effort
			return nil
		},
	)
}

// ConsumeEvents allows registration of multiple consumers easily
func (e *Eventer) ConsumeEvents(consumers ...Consumer) {
	for _, c := range consumers {
		c.Register(e)
	}
}

// DecodeEvent unmarshals a message published on TopicEvents.
func DecodeEvent(msg *message.Message) (*NormalizedEvent, error) {
	var evt NormalizedEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		return nil, fmt.Errorf("failed to decode event message %s: %w", msg.UUID, err)
	}
	return &evt, nil
}
