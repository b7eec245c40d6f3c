// Package config provides centralized configuration management for the agent
// daemon. It loads a single JSON file, applies defaults relative to the file's
// directory, and exposes typed sections for downstream services.
package config
