// Package chat implements the presence registry and message routing core of
// the relay.
//
// A Gateway owns every connected Session and processes their events one at a
// time on a single goroutine. Identity claims go through the Registry, which is
// the only place uniqueness is enforced, and message events go through the
// Router, which decides who receives what. Transports plug in by implementing
// Sink and forwarding inbound events to the Gateway.
package chat
