// Package transport defines what the agent core needs from a messaging network.
//
// Token agents use the Transport interface (see package botapi). Session agents
// use SessionTransport, which adds history and participant fetches, chat
// membership, and the interactive code login (see package mtproto). Fake is an
// in-memory implementation used by tests across the module.
package transport
