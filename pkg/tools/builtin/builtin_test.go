package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-ai/maestro/pkg/tools"
)

func adapterByName(t *testing.T, adapters []tools.ToolAdapter, name string) tools.ToolAdapter {
	t.Helper()
	for _, a := range adapters {
		if a.Name() == name {
			return a
		}
	}
	t.Fatalf("adapter %s not found", name)
	return nil
}

func TestDatabaseAdapters(t *testing.T) {
	db := NewMemoryDatabase()
	db.AddTable("incidents", "id", "title", "severity")
	db.AddRecord(map[string]any{"id": "1", "title": "api outage"})
	db.AddRecord(map[string]any{"id": "2", "title": "disk full"})
	adapters := DatabaseAdapters(db)
	ctx := context.Background()

	out, err := adapterByName(t, adapters, "search_database").Call(ctx,
		map[string]any{"query": "outage"})
	require.NoError(t, err)
	assert.Equal(t, 1, out["count"])

	out, err = adapterByName(t, adapters, "get_table_schema").Call(ctx,
		map[string]any{"table": "incidents"})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "title", "severity"}, out["columns"])

	_, err = adapterByName(t, adapters, "get_table_schema").Call(ctx,
		map[string]any{"table": "missing"})
	require.Error(t, err)

	out, err = adapterByName(t, adapters, "execute_query").Call(ctx,
		map[string]any{"statement": "select 1"})
	require.NoError(t, err)
	assert.Equal(t, 0, out["affected"])
}

func TestDocumentAdapters(t *testing.T) {
	docs := NewMemoryDocuments()
	docs.AddDocument("runbook-1", "How to handle API outages in production.")
	adapters := DocumentAdapters(docs)
	ctx := context.Background()

	out, err := adapterByName(t, adapters, "search_documents").Call(ctx,
		map[string]any{"query": "outages"})
	require.NoError(t, err)
	assert.Equal(t, 1, out["count"])

	out, err = adapterByName(t, adapters, "summarize_document").Call(ctx,
		map[string]any{"document_id": "runbook-1"})
	require.NoError(t, err)
	assert.Contains(t, out["summary"], "API outages")

	_, err = adapterByName(t, adapters, "summarize_document").Call(ctx,
		map[string]any{"document_id": "missing"})
	require.Error(t, err)
}

func TestAnalyticsAdapters(t *testing.T) {
	adapters := AnalyticsAdapters(NewMemoryAnalytics())
	ctx := context.Background()

	out, err := adapterByName(t, adapters, "generate_report").Call(ctx,
		map[string]any{"report_type": "usage"})
	require.NoError(t, err)
	assert.Equal(t, "usage", out["report_type"])

	_, err = adapterByName(t, adapters, "generate_report").Call(ctx,
		map[string]any{"report_type": "bogus"})
	require.Error(t, err)

	out, err = adapterByName(t, adapters, "analyze_data").Call(ctx,
		map[string]any{"dataset": "latency"})
	require.NoError(t, err)
	assert.Equal(t, "descriptive", out["method"])
}

func TestAllMemoryAdapters(t *testing.T) {
	adapters := AllMemoryAdapters()
	assert.Len(t, adapters, 7)
	for _, a := range adapters {
		assert.NotEmpty(t, a.Name())
		assert.NotEmpty(t, a.InputSchema())
	}
}
