// Package announce publishes a FeedRefreshed event on NATS after every
// persisted run.
package announce

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/noticewatch/noticewatch/engine/aggregate"
	"github.com/noticewatch/noticewatch/engine/notice"
	"github.com/noticewatch/noticewatch/pkg/natsutil"
)

// DefaultSubject is the subject FeedRefreshed events are published on.
const DefaultSubject = "noticewatch.feed.refreshed"

const defaultTop = 5

// Headline is a short reference to one notice.
type Headline struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Source      string `json:"source"`
	Date        string `json:"date,omitempty"`
	Institution string `json:"institution"`
	Score       *int   `json:"score,omitempty"`
}

// FeedRefreshed announces a newly persisted bundle.
type FeedRefreshed struct {
	Feed        string                   `json:"feed"`
	RunID       string                   `json:"run_id"`
	GeneratedAt string                   `json:"generated_at"`
	Count       int                      `json:"count"`
	Threshold   *int                     `json:"threshold"`
	Sources     []aggregate.SourceReport `json:"sources"`
	Top         []Headline               `json:"top"`
}

// NewEvent builds the event for r, including at most top headlines.
func NewEvent(r *aggregate.Report, top int) FeedRefreshed {
	b := r.Bundle
	ev := FeedRefreshed{
		Feed:        r.Feed,
		RunID:       r.RunID,
		GeneratedAt: b.GeneratedAt,
		Count:       b.Count,
		Threshold:   b.Threshold,
		Sources:     r.Sources,
		Top:         make([]Headline, 0, min(top, len(b.Items))),
	}
	for _, n := range b.Items[:min(top, len(b.Items))] {
		ev.Top = append(ev.Top, headline(n))
	}
	return ev
}

func headline(n notice.Notice) Headline {
	return Headline{
		Title:       n.Title,
		Link:        n.Link,
		Source:      n.Source,
		Date:        n.Date,
		Institution: n.Institution,
		Score:       n.Score,
	}
}

// Publisher is an aggregate.Sink publishing FeedRefreshed events.
type Publisher struct {
	nc      *nats.Conn
	subject string
	top     int
}

var _ aggregate.Sink = (*Publisher)(nil)

// NewPublisher creates a Publisher. An empty subject means DefaultSubject.
func NewPublisher(nc *nats.Conn, subject string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{nc: nc, subject: subject, top: defaultTop}
}

// Name implements aggregate.Sink.
func (p *Publisher) Name() string { return "nats" }

// Deliver implements aggregate.Sink.
func (p *Publisher) Deliver(ctx context.Context, r *aggregate.Report) error {
	if err := natsutil.Publish(ctx, p.nc, p.subject, r.Feed+"/"+r.RunID, NewEvent(r, p.top)); err != nil {
		return fmt.Errorf("announce %s: %w", r.Feed, err)
	}
	return nil
}

// Subscribe delivers FeedRefreshed events published on subject to handler.
// Payloads that are not events are passed to reject when it is non-nil.
func Subscribe(nc *nats.Conn, subject string, handler func(context.Context, FeedRefreshed), reject func(*nats.Msg, error)) (*nats.Subscription, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	return natsutil.Subscribe(nc, subject, handler, reject)
}
