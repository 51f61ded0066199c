// Package hub implements the Event Hub (spec §4.2) and the Engine Framework
// contract every detection engine satisfies (spec §4.3).
package hub

import (
	"context"

	"sentinel/internal/model"
)

// Engine is the capability set every detection engine implements.
// ShouldProcess's default semantics (spec §4.3, confirmed against
// test_base_engine.py): EventTypes/Producers are each independently
// nil-means-accept-all; when both are non-empty, both must match.
type Engine interface {
	Name() string
	EventTypes() []model.EventType
	Producers() []model.Producer

	// ShouldProcess reports whether this engine wants to see event.
	ShouldProcess(event *model.Event) bool

	// Process runs the engine's detection logic. It may return an error;
	// HandleEvent is responsible for turning any error into a nil Result
	// so failures never propagate to the hub.
	Process(ctx context.Context, event *model.Event) (*model.Result, error)
}

// BulkEngine is implemented by engines that also have a catalog-scoped bulk
// entry point (currently only the tool-poisoning engine). The hub detects
// this via a type assertion, per spec §9's Design Note, rather than a name
// string comparison.
type BulkEngine interface {
	Engine
	// ProcessTools analyzes newly cataloged tool descriptors and returns one
	// Result per descriptor that warrants one (e.g. a DENY verdict).
	ProcessTools(ctx context.Context, descriptors []model.ToolDescriptor, event *model.Event) []*model.Result
}

// BaseEngine provides the default ShouldProcess filter. Concrete engines
// embed it and only implement Process (and, for bulk engines, ProcessTools).
type BaseEngine struct {
	EngineName     string
	AcceptedTypes  []model.EventType
	AcceptedOrigin []model.Producer
}

func (b *BaseEngine) Name() string                     { return b.EngineName }
func (b *BaseEngine) EventTypes() []model.EventType     { return b.AcceptedTypes }
func (b *BaseEngine) Producers() []model.Producer       { return b.AcceptedOrigin }

// ShouldProcess implements the default filter described in spec §4.3.
func (b *BaseEngine) ShouldProcess(event *model.Event) bool {
	if len(b.AcceptedTypes) > 0 {
		matched := false
		for _, t := range b.AcceptedTypes {
			if event.EventType == t {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if len(b.AcceptedOrigin) > 0 {
		matched := false
		for _, p := range b.AcceptedOrigin {
			if event.Producer == p {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}

// HandleEvent invokes process (the engine's own Process implementation),
// catching panics and errors alike so nothing ever escapes to the hub
// (spec §4.3, confirmed against test_base_engine.py's FailingEngine case).
func HandleEvent(ctx context.Context, e Engine, event *model.Event) (result *model.Result) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
		}
	}()

	res, err := e.Process(ctx, event)
	if err != nil {
		return nil
	}
	return res
}
