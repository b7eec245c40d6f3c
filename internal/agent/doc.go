// Package agent contains the core orchestrator responsible for turning a
// natural-language task into a sequence of executed commands. Each cycle it
// aggregates directives, commands and conversation context from an ordered
// list of components, builds a prompt, asks the model to propose exactly one
// action, and dispatches that action against the per-cycle command registry
// with error containment and an output-size ceiling.
package agent
