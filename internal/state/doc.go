// Package state holds the cached domain stores that realtime events are
// merged into: trip, membership, chat and notifications.
//
// Every store applies writes under one rule: an incoming revision replaces
// the cached one only if model.Revision.Newer says so. Events, optimistic
// local writes and full REST refetches all go through that rule, so arrival
// order never decides the outcome.
//
// Removals leave a tombstone carrying the removal's revision; a late "added"
// with an older revision is ignored instead of resurrecting the entity.
package state

import "errors"

// ErrUnknownTrip is returned by optimistic writes against a trip that is
// not cached.
var ErrUnknownTrip = errors.New("state: unknown trip")
