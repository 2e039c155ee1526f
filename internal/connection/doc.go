// Package connection implements the realtime channel for trips.
//
// A Client owns one WebSocket for one trip:
//   - Connects with a timeout and reports status transitions
//   - Sends an application ping and watches for stale sockets
//   - Reconnects with capped exponential backoff after abnormal closes
//   - Treats close 4001 as an auth failure and 4009 as a duplicate
//
// The Manager keeps at most one Client per trip, consults the coordination
// registry before opening one, validates inbound frames and dispatches the
// resulting events to the domain reducers.
package connection
