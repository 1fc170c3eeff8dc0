// Package natsutil moves JSON values over NATS core subjects, carrying the
// caller's trace context in message headers.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const contentType = "application/json"

// carrier views the message headers through the HTTP header carrier. Both
// types are map[string][]string underneath.
func carrier(msg *nats.Msg) propagation.HeaderCarrier {
	if msg.Header == nil {
		msg.Header = nats.Header{}
	}
	return propagation.HeaderCarrier(http.Header(msg.Header))
}

// Publish encodes v and publishes it on subject. A non-empty id is sent as
// Nats-Msg-Id so a JetStream stream bound to the subject drops repeats of
// the same announcement.
func Publish(ctx context.Context, nc *nats.Conn, subject, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", subject, err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set("Content-Type", contentType)
	if id != "" {
		msg.Header.Set(nats.MsgIdHdr, id)
	}
	otel.GetTextMapPropagator().Inject(ctx, carrier(msg))
	return nc.PublishMsg(msg)
}

// Subscribe decodes each message on subject into T and hands it to handler
// with the publisher's trace context. Messages that do not decode go to
// reject, which may be nil.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, T), reject func(*nats.Msg, error)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			if reject != nil {
				reject(msg, fmt.Errorf("decode %s: %w", msg.Subject, err))
			}
			return
		}
		handler(otel.GetTextMapPropagator().Extract(context.Background(), carrier(msg)), v)
	})
}
