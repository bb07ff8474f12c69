// Package teams relays notifications to Microsoft Teams through Graph.
//
// A call flows through four steps: the request is checked and resolved into a
// Target (ChannelTarget or ChatTarget), a bearer token is obtained with the
// client-credentials grant, the message is formatted, and the Graph endpoint
// for the target is called. Relay is the only place that turns failures into
// caller-facing results; lower layers return *RequestError, *ConfigError or
// *APIError, and anything else is reported as an internal error.
//
// Tokens are fetched per call and never cached.
package teams
