// Package api exposes the REST surface for submitting agent tasks, inspecting
// their progress and episodes, and driving integration authorization flows.
package api
