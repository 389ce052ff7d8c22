// Package protocol encodes and decodes the relay's JSON wire frames.
//
// Clients send ChatRequest frames; the server answers with Envelope frames.
// Inbound frames are validated against a JSON schema before they reach a
// session.
package protocol
