// Package index provides full-text search over tasks.
//
// The coordinator keeps the index current on every lifecycle change;
// command-style callers query it to find tasks by description words,
// status, or assigned agent. The index is memory-only, matching the
// engine's no-persistence model.
package index

import (
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/coordkit/coordkit/task"
)

// taskDocument is the indexed representation of a task.
type taskDocument struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Agents      []string `json:"agents"`
	ExternalRef string   `json:"external_ref"`
}

// Hit is one search result.
type Hit struct {
	ID    string
	Score float64
}

// TaskIndex is a searchable view over the task universe.
type TaskIndex struct {
	mu    sync.Mutex
	index bleve.Index
}

// New creates an empty in-memory task index.
func New() (*TaskIndex, error) {
	mapping := bleve.NewIndexMapping()
	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, err
	}
	return &TaskIndex{index: idx}, nil
}

// Put indexes or re-indexes a task.
func (ti *TaskIndex) Put(t task.Task) error {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	doc := taskDocument{
		ID:          t.ID,
		Description: t.Description,
		Status:      t.Status.String(),
		Agents:      t.AssignedAgents,
		ExternalRef: t.ExternalRef,
	}
	return ti.index.Index(t.ID, doc)
}

// Delete removes a task from the index.
func (ti *TaskIndex) Delete(taskID string) error {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return ti.index.Delete(taskID)
}

// Search runs a query-string search and returns up to limit hits,
// best score first. The query syntax is bleve's: bare words match the
// description, field:value matches a specific field.
func (ti *TaskIndex) Search(query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}

	ti.mu.Lock()
	defer ti.mu.Unlock()

	q := bleve.NewQueryStringQuery(query)
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	res, err := ti.index.Search(req)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{ID: h.ID, Score: h.Score})
	}
	return hits, nil
}

// Count returns the number of indexed tasks.
func (ti *TaskIndex) Count() (uint64, error) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return ti.index.DocCount()
}

// Close releases the index.
func (ti *TaskIndex) Close() error {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return ti.index.Close()
}
