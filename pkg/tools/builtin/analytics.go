package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/maestro-ai/maestro/pkg/tools"
)

// AnalyticsBackend is the opaque engine behind the analytics tools.
type AnalyticsBackend interface {
	GenerateReport(ctx context.Context, reportType string, filters map[string]any) (map[string]any, error)
	Analyze(ctx context.Context, dataset string, method string) (map[string]any, error)
}

// AnalyticsAdapters returns the analytics tool family bound to backend.
func AnalyticsAdapters(backend AnalyticsBackend) []tools.ToolAdapter {
	return []tools.ToolAdapter{
		&funcAdapter{
			name:        "generate_report",
			description: "Generate a report of the given type.",
			schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"report_type": {"type": "string", "enum": ["usage", "performance", "summary"]},
					"filters": {"type": "object"}
				},
				"required": ["report_type"],
				"additionalProperties": false
			}`),
			call: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				filters, _ := args["filters"].(map[string]any)
				return backend.GenerateReport(ctx, stringArg(args, "report_type"), filters)
			},
		},
		&funcAdapter{
			name:        "analyze_data",
			description: "Run a statistical analysis over a dataset.",
			schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"dataset": {"type": "string"},
					"method": {"type": "string"}
				},
				"required": ["dataset"],
				"additionalProperties": false
			}`),
			call: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				method := stringArg(args, "method")
				if method == "" {
					method = "descriptive"
				}
				return backend.Analyze(ctx, stringArg(args, "dataset"), method)
			},
		},
	}
}

// MemoryAnalytics is the in-memory AnalyticsBackend, returning canned
// shapes for each operation.
type MemoryAnalytics struct{}

// NewMemoryAnalytics creates the fake analytics engine.
func NewMemoryAnalytics() *MemoryAnalytics { return &MemoryAnalytics{} }

func (MemoryAnalytics) GenerateReport(_ context.Context, reportType string, filters map[string]any) (map[string]any, error) {
	switch reportType {
	case "usage", "performance", "summary":
		return map[string]any{
			"report_type": reportType,
			"filters":     filters,
			"sections":    []string{"overview", "details"},
		}, nil
	default:
		return nil, fmt.Errorf("unknown report type %q", reportType)
	}
}

func (MemoryAnalytics) Analyze(_ context.Context, dataset, method string) (map[string]any, error) {
	if dataset == "" {
		return nil, fmt.Errorf("empty dataset")
	}
	return map[string]any{
		"dataset": dataset,
		"method":  method,
		"metrics": map[string]any{"count": 0, "mean": 0.0},
	}, nil
}

// AllMemoryAdapters is a convenience bundle of every stock tool family
// over in-memory backends.
func AllMemoryAdapters() []tools.ToolAdapter {
	var out []tools.ToolAdapter
	out = append(out, DatabaseAdapters(NewMemoryDatabase())...)
	out = append(out, DocumentAdapters(NewMemoryDocuments())...)
	out = append(out, AnalyticsAdapters(NewMemoryAnalytics())...)
	return out
}
