package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/maestro-ai/maestro/pkg/tools"
)

// DocumentBackend is the opaque store behind the document tools.
type DocumentBackend interface {
	Search(ctx context.Context, query string, limit int) ([]map[string]any, error)
	Summarize(ctx context.Context, documentID string) (string, error)
}

// DocumentAdapters returns the document tool family bound to backend.
func DocumentAdapters(backend DocumentBackend) []tools.ToolAdapter {
	return []tools.ToolAdapter{
		&funcAdapter{
			name:        "search_documents",
			description: "Search the document store by keyword.",
			schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string"},
					"limit": {"type": "integer", "minimum": 1, "maximum": 50}
				},
				"required": ["query"],
				"additionalProperties": false
			}`),
			call: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				docs, err := backend.Search(ctx, stringArg(args, "query"), intArg(args, "limit", 5))
				if err != nil {
					return nil, err
				}
				return map[string]any{"documents": docs, "count": len(docs)}, nil
			},
		},
		&funcAdapter{
			name:        "summarize_document",
			description: "Produce a short summary of one document.",
			schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"document_id": {"type": "string"}
				},
				"required": ["document_id"],
				"additionalProperties": false
			}`),
			call: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				summary, err := backend.Summarize(ctx, stringArg(args, "document_id"))
				if err != nil {
					return nil, err
				}
				return map[string]any{"summary": summary}, nil
			},
		},
	}
}

// MemoryDocuments is the in-memory DocumentBackend.
type MemoryDocuments struct {
	mu   sync.RWMutex
	docs map[string]string // id -> body
}

// NewMemoryDocuments creates an empty fake document store.
func NewMemoryDocuments() *MemoryDocuments {
	return &MemoryDocuments{docs: make(map[string]string)}
}

// AddDocument stores a document body under id.
func (d *MemoryDocuments) AddDocument(id, body string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.docs[id] = body
}

func (d *MemoryDocuments) Search(_ context.Context, query string, limit int) ([]map[string]any, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	needle := strings.ToLower(query)
	var out []map[string]any
	for id, body := range d.docs {
		if strings.Contains(strings.ToLower(body), needle) {
			out = append(out, map[string]any{"document_id": id})
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (d *MemoryDocuments) Summarize(_ context.Context, documentID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	body, ok := d.docs[documentID]
	if !ok {
		return "", fmt.Errorf("unknown document %q", documentID)
	}
	// The fake truncates instead of summarizing.
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return body, nil
}
