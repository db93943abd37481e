// Package protocol defines the client commands and relay messages of the Nostr
// relay protocol and the codec that maps them to and from WebSocket text frames.
//
// Outbound frames:
//
//	["EVENT", <event>]
//	["AUTH", <event>]
//	["REQ", <subscription-id>, <filter>, ...]
//	["CLOSE", <subscription-id>]
//
// Inbound frames:
//
//	["AUTH", <challenge>]
//	["EVENT", <subscription-id>, <event>]
//	["OK", <event-id>, <accepted>, <reason>]
//	["EOSE", <subscription-id>]
//	["CLOSED", <subscription-id>, <reason>]
//	["NOTICE", <text>]
//
// Command and RelayMessage are closed sets: every variant lives in this
// package, and code that handles them switches on the concrete type.
package protocol
