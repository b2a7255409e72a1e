// Package api exposes the HTTP interface for the coordinator service:
// job registration and control, the worker ingest endpoints, and the
// websocket relay for dashboard consumers.
package api
