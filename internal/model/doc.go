// Package model defines the domain entities cached by the client and the
// revision used to order concurrent writes to them.
//
// Conventions:
//   - IDs: opaque strings issued by the trip service
//   - Timestamps: time.Time in UTC
//   - Every cached entity carries a Revision; writes are applied only when
//     their revision is newer than the cached one (see Revision.Newer)
package model
