// Package coordinator owns the lifecycle of sharecore workers.
//
// Every worker, server or client, is handed to Dispatch, which registers it
// and starts it on its own goroutine. Workers report back through one
// buffered event channel; a single timeline goroutine applies those events
// to the registry and calls the Observer, so observers never see concurrent
// callbacks.
//
// A finished worker stays registered for GraceDelay so a presentation layer
// can show its final state, is then disposed, and its final Status remains
// available through Status for RetentionWindow.
//
// Shutdown refuses new work, cancels every worker, keeps delivering their
// events until all of them have exited, and then stops the timeline.
package coordinator
