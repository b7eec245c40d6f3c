// Package llm contains adapters and orchestration types for invoking large
// language models. It abstracts away provider-specific APIs and normalizes
// chat-completion request/response lifecycles for use within the agent
// runtime, including function-calling specs and token accounting.
package llm
