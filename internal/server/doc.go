// Package server wires and runs the passive sync peer's HTTP transport.
//
// It provides orchestration for the HTTP server lifecycle, including
// startup, signal handling, graceful shutdown, and the routes serving the
// sync websocket endpoint and the version API.
package server
