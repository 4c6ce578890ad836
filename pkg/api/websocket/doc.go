// Package websocket provides real-time event streaming via WebSocket.
//
// Clients can connect to /api/v1/flows/:id/ws to receive the lifecycle
// events of one session as JSON records.
package websocket
