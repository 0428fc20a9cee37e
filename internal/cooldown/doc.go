// Package cooldown provides a bounded, clock-driven window that limits how
// often an agent replies in the same chat.
package cooldown
