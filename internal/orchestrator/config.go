package orchestrator

import "go.opentelemetry.io/otel/trace"

// Config captures the runtime controls the orchestrator needs.
type Config struct {
	// BranchPrefix replaces "backport" in derived branch names.
	BranchPrefix string
	// Tracer receives one span per attempt. The global provider's tracer is used when nil.
	Tracer trace.Tracer
}
