// Package persistence defines the storage contract the event hub and
// detection engines depend on (spec §6, C6) and ships a concrete SQLite
// implementation.
package persistence

import (
	"context"

	"sentinel/internal/model"
)

// Store is the abstract persistence contract consumed by the core. The
// five operations mirror spec §6 exactly.
type Store interface {
	// InsertRawEvent persists the raw event and returns its assigned id.
	InsertRawEvent(ctx context.Context, event *model.Event) (string, error)

	// InsertRPCEvent persists the MCP-specific (JSON-RPC) projection of an
	// already-raw-inserted event.
	InsertRPCEvent(ctx context.Context, event *model.Event, rawEventID string) error

	// InsertFileEvent persists the File-typed projection.
	InsertFileEvent(ctx context.Context, event *model.Event, rawEventID string) error

	// InsertProcessEvent persists the Process-typed projection.
	InsertProcessEvent(ctx context.Context, event *model.Event, rawEventID string) error

	// InsertToolCatalog upserts the given descriptors and returns only the
	// ones that were newly inserted (dedup by (mcpTag, producer, tool_slug)).
	// This return-only-new-rows contract is load-bearing for the
	// tool-poisoning engine's once-per-descriptor invariant.
	InsertToolCatalog(ctx context.Context, descriptors []model.ToolDescriptor) ([]model.ToolDescriptor, error)

	// InsertEngineResult persists a result envelope and returns its id, or
	// ("", nil) if the result was not persisted for a benign reason.
	InsertEngineResult(ctx context.Context, result *model.Result, rawEventID, serverName string, producer model.Producer) (string, error)

	// QueryToolsBy returns the known tool descriptors for a given server.
	QueryToolsBy(ctx context.Context, mcpTag string, producer model.Producer) ([]model.ToolDescriptor, error)

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}
