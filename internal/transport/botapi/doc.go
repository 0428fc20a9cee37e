// Package botapi implements transport.Transport over the Telegram Bot API using telego.
package botapi
