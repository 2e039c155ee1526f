// Package coordination keeps the connection registry that stops two
// coordinating client instances from opening a realtime channel for the
// same trip.
//
// The registry is advisory. The server remains the authority and may still
// evict a duplicate after connect; this layer only avoids opening one in
// the common case. Two implementations exist:
//
//   - LocalStore: a single instance (or several processes sharing one
//     SQLite file). Entries survive crashes so a restart can see its own
//     stale entry.
//   - MultiTabStore: instances exchange register/unregister/query messages
//     over a Broadcaster (in-memory hub, Redis pub/sub or Postgres
//     LISTEN/NOTIFY) and answer queries for entries they own.
package coordination
