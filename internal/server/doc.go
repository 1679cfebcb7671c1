// Package server is the network edge of the chat: WebSocket sessions, the
// broadcast hub that fans events out to them, and the REST API.
//
// A session is registered with the Hub after the upgrade. Every inbound
// sendMessage frame goes through chat.Service.Send, which stores the
// message and then publishes it back through the Hub. Each session has a
// bounded outbound queue; a session that lets its queue fill is
// disconnected so that it never delays delivery to anyone else.
package server
