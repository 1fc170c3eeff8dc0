// Package repo provides a small generic Neo4j node repository used by the
// graph sink.
package repo

import "context"

// Writer upserts entities and their relationships.
type Writer[T any] interface {
	UpsertAll(ctx context.Context, items []T) error
	LinkAll(ctx context.Context, rel Relation, edges []Edge) error
	Count(ctx context.Context) (int64, error)
}

// Relation describes a relationship from this repository's label to
// another node label. The target node is merged by TargetKey.
type Relation struct {
	Type        string
	TargetLabel string
	TargetKey   string
}

// Edge connects a node of this repository to a target node key.
type Edge struct {
	From string
	To   string
}
