// Package backend defines the contract between the dispatch core and the
// LLM endpoints it drives, and the Registry that owns them.
//
// A Backend is an adapter around one external model endpoint. The Registry
// keeps backends in priority order together with their health flags, a
// per-backend TokenBucket and rolling performance metrics. Each Entry guards
// its own state; the registry lock is held only while the backend list is
// read or changed, so traffic to unrelated backends never serializes.
//
// # Request lifecycle
//
// A Request is a value. Once handed to a dispatcher it is never modified;
// retries build a new Request with Derive, which assigns a fresh ID and
// records the original as ParentID.
package backend
