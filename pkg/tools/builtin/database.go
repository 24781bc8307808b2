package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/maestro-ai/maestro/pkg/tools"
)

// DatabaseBackend is the opaque engine behind the database tools.
type DatabaseBackend interface {
	Search(ctx context.Context, query string, limit int) ([]map[string]any, error)
	Execute(ctx context.Context, statement string) (map[string]any, error)
	TableSchema(ctx context.Context, table string) (map[string]any, error)
}

// DatabaseAdapters returns the database tool family bound to backend.
func DatabaseAdapters(backend DatabaseBackend) []tools.ToolAdapter {
	return []tools.ToolAdapter{
		&funcAdapter{
			name:        "search_database",
			description: "Full-text search over database records.",
			schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string"},
					"limit": {"type": "integer", "minimum": 1, "maximum": 100}
				},
				"required": ["query"],
				"additionalProperties": false
			}`),
			call: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				rows, err := backend.Search(ctx, stringArg(args, "query"), intArg(args, "limit", 10))
				if err != nil {
					return nil, err
				}
				return map[string]any{"rows": rows, "count": len(rows)}, nil
			},
		},
		&funcAdapter{
			name:        "execute_query",
			description: "Execute a read-only query statement.",
			schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"statement": {"type": "string"}
				},
				"required": ["statement"],
				"additionalProperties": false
			}`),
			call: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				return backend.Execute(ctx, stringArg(args, "statement"))
			},
		},
		&funcAdapter{
			name:        "get_table_schema",
			description: "Describe the columns of a table.",
			schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"table": {"type": "string"}
				},
				"required": ["table"],
				"additionalProperties": false
			}`),
			call: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				return backend.TableSchema(ctx, stringArg(args, "table"))
			},
		},
	}
}

// MemoryDatabase is the in-memory DatabaseBackend used in tests and
// standalone deployments.
type MemoryDatabase struct {
	mu      sync.RWMutex
	tables  map[string][]string // table -> columns
	records []map[string]any
}

// NewMemoryDatabase seeds an empty fake database.
func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{tables: make(map[string][]string)}
}

// AddTable declares a table with its columns.
func (d *MemoryDatabase) AddTable(name string, columns ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables[name] = columns
}

// AddRecord inserts a searchable record.
func (d *MemoryDatabase) AddRecord(record map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append(d.records, record)
}

func (d *MemoryDatabase) Search(_ context.Context, query string, limit int) ([]map[string]any, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	needle := strings.ToLower(query)
	var out []map[string]any
	for _, rec := range d.records {
		for _, v := range rec {
			s, ok := v.(string)
			if ok && strings.Contains(strings.ToLower(s), needle) {
				out = append(out, rec)
				break
			}
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (d *MemoryDatabase) Execute(_ context.Context, statement string) (map[string]any, error) {
	if statement == "" {
		return nil, fmt.Errorf("empty statement")
	}
	// The fake accepts any statement and reports zero affected rows.
	return map[string]any{"rows": []map[string]any{}, "affected": 0}, nil
}

func (d *MemoryDatabase) TableSchema(_ context.Context, table string) (map[string]any, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	columns, ok := d.tables[table]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	return map[string]any{"table": table, "columns": columns}, nil
}
