// Package swrcache is a client-side cache for JSON API responses.
//
// A Store keeps decoded payloads under canonical keys built from an endpoint and its
// parameters, each valid for a TTL. A Coordinator sits in front of the transport: it
// serves valid entries, coalesces concurrent requests for the same key into a single
// call, and can hand back a stale entry while refreshing it in the background. Query
// exposes a request as a stream of loading, data and error states for consumers.
//
// Entries can optionally be persisted through a Backend, see the caches packages.
package swrcache
