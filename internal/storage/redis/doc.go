// Package redis provides a Redis-backed response cache for the agent's
// outbound HTTP blocks. Identical search and extraction requests within the
// TTL window are served from cache instead of hitting the upstream service.
package redis
