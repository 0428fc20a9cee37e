// Package completion defines the AI reply provider used by auto_reply in
// "ai" mode, with an OpenAI-compatible HTTP client and offline providers.
package completion
