// Package clock abstracts time so cooldowns, broadcast delays and the
// restart settle delay can be driven deterministically in tests.
package clock
