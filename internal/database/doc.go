// Package database opens the PostgreSQL pool used by the LISTEN/NOTIFY
// coordination broadcaster. Clients on different hosts that share a
// database can see each other's connection registry through it.
package database
