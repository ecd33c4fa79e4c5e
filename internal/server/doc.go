// Package server carries the chat gateway over HTTP and WebSocket.
//
// Each WebSocket connection becomes a Client, the chat.Sink of one gateway
// session. The client's read pump decodes {"event", "data"} frames and
// forwards them to the gateway; its write pump drains the frames the gateway
// queued. The rest of the package holds configuration, origin checks, rate
// limiting and the HTTP routes.
package server
