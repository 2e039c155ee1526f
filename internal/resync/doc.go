// Package resync refetches trip state from the REST API.
//
// The Resyncer:
//   - Refetches a trip after its realtime channel reconnects, covering
//     events missed while the socket was down
//   - Refetches every connected trip on a fixed interval as a backstop
//   - Applies snapshots through the stores' Replace methods, so a snapshot
//     older than a cached pushed event never overwrites it
package resync
