// Package graph projects indexed documents into a catalog graph:
// (:Document)-[:IN_CAREER]->(:Career), (:Document)-[:OF_TYPE]->(:WorkType)
// and (:Document)-[:SIMILAR_TO {score}]->(:Document).
package graph

import (
	"context"
	"sort"
	"sync"
)

// Neighbour is a similarity edge target.
type Neighbour struct {
	DocumentID string  `json:"document_id"`
	Score      float32 `json:"score"`
}

// Document is the node written for one indexed document.
type Document struct {
	ID       string
	Title    string
	Year     string
	Career   string
	WorkType string
	Slot     int
	Similar  []Neighbour
}

// Related is a document reachable from another one.
type Related struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"titulo"`
	Score      float32 `json:"score"`
	Via        string  `json:"via"` // "similar_to" or "same_career"
}

// Repository stores the catalog graph.
type Repository interface {
	// StoreDocument merges the document node, its category edges and its
	// similarity edges. Re-storing a document replaces its outgoing
	// SIMILAR_TO edges.
	StoreDocument(ctx context.Context, doc Document) error
	// Related returns similar documents first (by score), then documents of
	// the same career, up to limit.
	Related(ctx context.Context, documentID string, limit int) ([]Related, error)
	// Close releases resources.
	Close(ctx context.Context) error
}

// Memory is an in-process Repository.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]Document
}

// NewMemory creates an empty in-memory graph.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]Document)}
}

func (m *Memory) StoreDocument(_ context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
	return nil
}

func (m *Memory) Related(_ context.Context, documentID string, limit int) ([]Related, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[documentID]
	if !ok || limit <= 0 {
		return nil, nil
	}

	seen := map[string]bool{documentID: true}
	var out []Related
	similar := append([]Neighbour(nil), doc.Similar...)
	sort.SliceStable(similar, func(i, j int) bool { return similar[i].Score > similar[j].Score })
	for _, n := range similar {
		if seen[n.DocumentID] {
			continue
		}
		seen[n.DocumentID] = true
		out = append(out, Related{DocumentID: n.DocumentID, Title: m.docs[n.DocumentID].Title, Score: n.Score, Via: "similar_to"})
	}

	if doc.Career != "" {
		ids := make([]string, 0, len(m.docs))
		for id := range m.docs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			other := m.docs[id]
			if seen[id] || other.Career != doc.Career {
				continue
			}
			seen[id] = true
			out = append(out, Related{DocumentID: id, Title: other.Title, Via: "same_career"})
		}
	}

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Close(context.Context) error { return nil }

var _ Repository = (*Memory)(nil)
