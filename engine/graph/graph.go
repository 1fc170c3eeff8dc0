// Package graph mirrors persisted feeds into Neo4j as
// (:Notice)-[:PUBLISHED_BY]->(:Institution) and
// (:Notice)-[:FROM_SOURCE]->(:Source).
package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/noticewatch/noticewatch/engine/aggregate"
	"github.com/noticewatch/noticewatch/engine/notice"
	"github.com/noticewatch/noticewatch/engine/resolve"
	"github.com/noticewatch/noticewatch/pkg/logger"
	"github.com/noticewatch/noticewatch/pkg/repo"
)

const (
	LabelNotice      = "Notice"
	LabelInstitution = "Institution"
	LabelSource      = "Source"
)

var (
	publishedBy = repo.Relation{Type: "PUBLISHED_BY", TargetLabel: LabelInstitution, TargetKey: "name"}
	fromSource  = repo.Relation{Type: "FROM_SOURCE", TargetLabel: LabelSource, TargetKey: "name"}
)

// NoticeID is a stable node ID derived from the notice's dedup key.
func NoticeID(n notice.Notice) string {
	k := n.Key()
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(k.Title+"\x00"+k.Date+"\x00"+k.Link)).String()
}

// NoticeProps returns the node ID and properties written for n.
func NoticeProps(n notice.Notice) (string, map[string]any) {
	props := map[string]any{
		"title":       n.Title,
		"link":        n.Link,
		"date":        n.Date,
		"institution": n.Institution,
		"source":      n.Source,
	}
	if n.Score != nil {
		props["score"] = int64(*n.Score)
		props["reasons"] = n.Reasons
	}
	if t := n.Meta.Get(resolve.MetaGoLinkType); t != "" {
		props["link_type"] = t
	}
	return NoticeID(n), props
}

// NewNoticeRepo creates the Notice repository on driver.
func NewNoticeRepo(driver neo4j.DriverWithContext, database string) (*repo.Neo4jRepo[notice.Notice], error) {
	return repo.NewNeo4jRepo(driver, LabelNotice, NoticeProps, repo.WithDatabase[notice.Notice](database))
}

// Sink writes every persisted bundle to the graph.
type Sink struct {
	notices repo.Writer[notice.Notice]
	log     logger.Logger
}

var _ aggregate.Sink = (*Sink)(nil)

// NewSink creates a Sink writing through w.
func NewSink(w repo.Writer[notice.Notice], log logger.Logger) *Sink {
	if log == nil {
		log = logger.NewNop()
	}
	return &Sink{notices: w, log: log}
}

// Name implements aggregate.Sink.
func (s *Sink) Name() string { return "neo4j" }

// Deliver upserts the bundle's notices and links them to their institution
// and source.
func (s *Sink) Deliver(ctx context.Context, r *aggregate.Report) error {
	items := r.Bundle.Items
	if len(items) == 0 {
		return nil
	}
	if err := s.notices.UpsertAll(ctx, items); err != nil {
		return fmt.Errorf("graph %s: %w", r.Feed, err)
	}

	insts := make([]repo.Edge, 0, len(items))
	sources := make([]repo.Edge, 0, len(items))
	for _, n := range items {
		id := NoticeID(n)
		if inst := strings.TrimSpace(n.Institution); inst != "" && inst != notice.OtherInstitution {
			insts = append(insts, repo.Edge{From: id, To: inst})
		}
		sources = append(sources, repo.Edge{From: id, To: n.Source})
	}
	if err := s.notices.LinkAll(ctx, publishedBy, insts); err != nil {
		return fmt.Errorf("graph %s: %w", r.Feed, err)
	}
	if err := s.notices.LinkAll(ctx, fromSource, sources); err != nil {
		return fmt.Errorf("graph %s: %w", r.Feed, err)
	}

	total, err := s.notices.Count(ctx)
	if err != nil {
		s.log.Debug("graph count failed", logger.Error(err))
	}
	s.log.Info("graph updated",
		logger.String("feed", r.Feed),
		logger.Int("notices", len(items)),
		logger.Int64("total", total),
	)
	return nil
}
