// Package adapters holds the concrete collaborators behind the weave ports:
// fragment stores, the OpenAI completion client, token counters, and the cache,
// rate limiting, tracing and metrics plumbing around them.
package adapters
