// Package relay accepts websocket connections and runs one Session per
// client. A session validates its join parameters, joins the channel hub,
// streams the channel log to the client and forwards chat frames back.
package relay
