// Package api is the REST client for the trip service.
//
// Endpoints (relative to api.rest_url):
//   - GET   /trips/{id}
//   - PATCH /trips/{id}
//   - GET   /trips/{id}/members
//   - GET   /trips/{id}/messages
//   - POST  /auth/refresh
//
// Requests carry the session token as a bearer token and the publishable
// key in the apikey header. 5xx and 429 responses are retried with
// jittered exponential backoff.
package api
