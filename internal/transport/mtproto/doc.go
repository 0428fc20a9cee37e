// Package mtproto implements transport.SessionTransport for user accounts using gotd/td.
//
// Sessions are held in memory and exported as base64 strings so the agent
// record can persist them between runs.
package mtproto
