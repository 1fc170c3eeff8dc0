package repo

import (
	"context"
	"fmt"
	"regexp"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// result is the minimal interface needed from a neo4j result.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Neo4jRepo merges nodes of one label keyed by idKey.
type Neo4jRepo[T any] struct {
	driver     neo4j.DriverWithContext
	database   string
	label      string
	idKey      string
	toProps    func(T) (id string, props map[string]any)
	newSession func(ctx context.Context) runner
}

// Neo4jOption configures a Neo4jRepo.
type Neo4jOption[T any] func(*Neo4jRepo[T])

// WithIDKey sets the property name used as the ID (default "id").
func WithIDKey[T any](key string) Neo4jOption[T] {
	return func(r *Neo4jRepo[T]) { r.idKey = key }
}

// WithDatabase selects the target database.
func WithDatabase[T any](name string) Neo4jOption[T] {
	return func(r *Neo4jRepo[T]) { r.database = name }
}

// NewNeo4jRepo creates a repository for label. toProps returns the node ID
// and the properties to set on it.
func NewNeo4jRepo[T any](
	driver neo4j.DriverWithContext,
	label string,
	toProps func(T) (string, map[string]any),
	opts ...Neo4jOption[T],
) (*Neo4jRepo[T], error) {
	r := &Neo4jRepo[T]{driver: driver, label: label, idKey: "id", toProps: toProps}
	for _, o := range opts {
		o(r)
	}
	if !identifier.MatchString(r.label) || !identifier.MatchString(r.idKey) {
		return nil, fmt.Errorf("invalid label or id key %q/%q", r.label, r.idKey)
	}
	return r, nil
}

var _ Writer[any] = (*Neo4jRepo[any])(nil)

type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

func (r *Neo4jRepo[T]) session(ctx context.Context) runner {
	if r.newSession != nil {
		return r.newSession(ctx)
	}
	return &sessionAdapter{sess: r.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: r.database,
	})}
}

// UpsertAll merges every item by ID and overwrites the given properties.
func (r *Neo4jRepo[T]) UpsertAll(ctx context.Context, items []T) error {
	if len(items) == 0 {
		return nil
	}
	rows := make([]any, 0, len(items))
	for _, it := range items {
		id, props := r.toProps(it)
		rows = append(rows, map[string]any{"id": id, "props": props})
	}

	sess := r.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("UNWIND $rows AS row MERGE (n:%s {%s: row.id}) SET n += row.props", r.label, r.idKey)
	if _, err := sess.Run(ctx, cypher, map[string]any{"rows": rows}); err != nil {
		return fmt.Errorf("upsert %s: %w", r.label, err)
	}
	return nil
}

// LinkAll merges rel from existing nodes of this label to target nodes,
// creating targets as needed. Edges with an empty end are skipped.
func (r *Neo4jRepo[T]) LinkAll(ctx context.Context, rel Relation, edges []Edge) error {
	for _, name := range []string{rel.Type, rel.TargetLabel, rel.TargetKey} {
		if !identifier.MatchString(name) {
			return fmt.Errorf("invalid relation identifier %q", name)
		}
	}
	rows := make([]any, 0, len(edges))
	for _, e := range edges {
		if e.From == "" || e.To == "" {
			continue
		}
		rows = append(rows, map[string]any{"from": e.From, "to": e.To})
	}
	if len(rows) == 0 {
		return nil
	}

	sess := r.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(
		"UNWIND $rows AS row MATCH (a:%s {%s: row.from}) MERGE (b:%s {%s: row.to}) MERGE (a)-[:%s]->(b)",
		r.label, r.idKey, rel.TargetLabel, rel.TargetKey, rel.Type,
	)
	if _, err := sess.Run(ctx, cypher, map[string]any{"rows": rows}); err != nil {
		return fmt.Errorf("link %s-[%s]->%s: %w", r.label, rel.Type, rel.TargetLabel, err)
	}
	return nil
}

// Count returns the number of nodes with this label.
func (r *Neo4jRepo[T]) Count(ctx context.Context) (int64, error) {
	sess := r.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, fmt.Sprintf("MATCH (n:%s) RETURN count(n) AS c", r.label), nil)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", r.label, err)
	}
	if !res.Next(ctx) {
		return 0, nil
	}
	rec := res.Record()
	if rec == nil || len(rec.Values) == 0 {
		return 0, nil
	}
	n, _ := rec.Values[0].(int64)
	return n, nil
}
