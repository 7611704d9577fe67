// Package neo4j implements graph.Repository on a Neo4j database.
package neo4j

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/efebarandurmaz/docintel/internal/graph"
)

// Repository implements graph.Repository using Neo4j.
type Repository struct {
	driver   neo4j.DriverWithContext
	database string
}

// New connects to Neo4j and verifies connectivity. database may be empty for
// the server default.
func New(ctx context.Context, uri, username, password, database string) (*Repository, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return &Repository{driver: driver, database: database}, nil
}

func (r *Repository) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: r.database})
}

const (
	mergeDocument = `MERGE (d:Document {id: $id})
SET d.title = $title, d.year = $year, d.slot = $slot`
	mergeCareer = `MATCH (d:Document {id: $id})
MERGE (c:Career {name: $career})
MERGE (d)-[:IN_CAREER]->(c)`
	mergeWorkType = `MATCH (d:Document {id: $id})
MERGE (w:WorkType {name: $type})
MERGE (d)-[:OF_TYPE]->(w)`
	dropSimilar = `MATCH (:Document {id: $id})-[s:SIMILAR_TO]->() DELETE s`
	mergeSimilar = `MATCH (d:Document {id: $id})
UNWIND $neighbours AS n
MERGE (o:Document {id: n.id})
MERGE (d)-[s:SIMILAR_TO]->(o)
SET s.score = n.score`
)

func (r *Repository) StoreDocument(ctx context.Context, doc graph.Document) error {
	session := r.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		params := map[string]any{"id": doc.ID, "title": doc.Title, "year": doc.Year, "slot": doc.Slot}
		if _, err := tx.Run(ctx, mergeDocument, params); err != nil {
			return nil, err
		}
		if doc.Career != "" {
			if _, err := tx.Run(ctx, mergeCareer, map[string]any{"id": doc.ID, "career": doc.Career}); err != nil {
				return nil, err
			}
		}
		if doc.WorkType != "" {
			if _, err := tx.Run(ctx, mergeWorkType, map[string]any{"id": doc.ID, "type": doc.WorkType}); err != nil {
				return nil, err
			}
		}
		if _, err := tx.Run(ctx, dropSimilar, map[string]any{"id": doc.ID}); err != nil {
			return nil, err
		}
		if len(doc.Similar) > 0 {
			neighbours := make([]map[string]any, len(doc.Similar))
			for i, n := range doc.Similar {
				neighbours[i] = map[string]any{"id": n.DocumentID, "score": float64(n.Score)}
			}
			if _, err := tx.Run(ctx, mergeSimilar, map[string]any{"id": doc.ID, "neighbours": neighbours}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("store document %s: %w", doc.ID, err)
	}
	return nil
}

const relatedQuery = `MATCH (d:Document {id: $id})
CALL {
  WITH d
  MATCH (d)-[s:SIMILAR_TO]->(o:Document)
  RETURN o, s.score AS score, 'similar_to' AS via, 0 AS rank
  UNION
  WITH d
  MATCH (d)-[:IN_CAREER]->(:Career)<-[:IN_CAREER]-(o:Document)
  WHERE o.id <> d.id AND NOT (d)-[:SIMILAR_TO]->(o)
  RETURN o, 0.0 AS score, 'same_career' AS via, 1 AS rank
}
RETURN o.id AS id, coalesce(o.title, '') AS title, score, via
ORDER BY rank, score DESC, id
LIMIT $limit`

func (r *Repository) Related(ctx context.Context, documentID string, limit int) ([]graph.Related, error) {
	if limit <= 0 {
		return nil, nil
	}
	session := r.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := tx.Run(ctx, relatedQuery, map[string]any{"id": documentID, "limit": limit})
		if err != nil {
			return nil, err
		}
		var out []graph.Related
		for records.Next(ctx) {
			rec := records.Record()
			id, _, _ := neo4j.GetRecordValue[string](rec, "id")
			title, _, _ := neo4j.GetRecordValue[string](rec, "title")
			score, _, _ := neo4j.GetRecordValue[float64](rec, "score")
			via, _, _ := neo4j.GetRecordValue[string](rec, "via")
			out = append(out, graph.Related{DocumentID: id, Title: title, Score: float32(score), Via: via})
		}
		return out, records.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("related %s: %w", documentID, err)
	}
	return result.([]graph.Related), nil
}

func (r *Repository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

var _ graph.Repository = (*Repository)(nil)
