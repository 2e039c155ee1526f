// Package router dispatches validated events to the reducers registered
// for their type.
//
// Each domain store registers its own reducers; stores never reference each
// other. Dispatch is serialized so domain state is mutated by one goroutine
// at a time, regardless of how many trip connections are delivering events.
// A reducer that fails or panics is logged and counted; the remaining
// reducers for the event still run.
package router
