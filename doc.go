// Package darkroom provides a durable, priority-scheduled job engine for
// automated photo-development runs. A validated editing recipe becomes a
// unit of work that is claimed exactly once by a worker, retried under a
// classified-failure policy, and reported on through a best-effort
// lifecycle event bus.
//
// Darkroom is designed as a library, not a service. Import it, configure a
// store, supply the process function that drives the editing host, and
// enqueue recipes.
//
// # Quick Start
//
//	eng, err := darkroom.New(
//	    darkroom.WithStore(memory.New()),
//	    darkroom.WithConcurrency(4),
//	)
//	rt, err := engine.Build(eng, engine.WithProcessFunc(develop))
//
// # Architecture
//
// The engine never interprets a recipe itself: execution is an externally
// supplied function invoked once per claimed attempt. The scheduler owns
// all job state transitions; claims are linearizable per job. Failures are
// routed through a closed classification taxonomy before any retry
// decision, and every lifecycle transition is fanned out to subscribers
// without ever blocking job progress.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package darkroom
