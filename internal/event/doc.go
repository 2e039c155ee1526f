// Package event defines the closed set of realtime events pushed by the
// trip service and the validator that turns raw frames into them.
//
// Wire format (JSON):
//
//	{
//	  "id": "evt_123",
//	  "type": "member_added",
//	  "resourceId": "trip_1",
//	  "actorId": "user_9",
//	  "timestamp": "2026-03-01T12:00:00Z",
//	  "version": 7,
//	  "metadata": {"source": "api", "correlationId": "req_5"},
//	  "payload": {"userId": "user_2", "role": "editor"}
//	}
//
// Control frames ({"type":"connected"}, {"type":"pong"},
// {"type":"duplicate_connection"}) are recognized separately and are not
// domain events.
package event
