// Package transport implements the protocol-level message channels of the
// leitung transport: one bounded inbound queue fed by all POST
// submissions, and a registry of bounded per-subscriber outbound queues
// fed by Broadcast.
//
// The package contains no network I/O. It operates on decoded protocol
// messages and leaves the HTTP surface to pkg/transport/http, which feeds
// Submit from POST bodies and pumps Subscription reads onto SSE streams.
// An external processing loop drains the inbound queue via Receive and
// publishes results with Broadcast; the transport never interprets message
// payloads beyond recognizing the session-initialization request.
//
// # Queues and backpressure
//
// Both queue directions are bounded. A submitter that finds the inbound
// queue full suspends until space frees up, its context is cancelled, or
// the transport shuts down. A full outbound queue affects only its own
// subscriber: Broadcast waits a bounded interval for that subscriber and
// then drops the message for it, never stalling delivery to the others.
//
// # Lifecycle
//
// Shutdown is idempotent and unblocks every pending Submit, Receive, and
// Subscription.Next. Messages already queued remain readable after
// shutdown begins; new submissions fail fast.
//
// # Middleware and task tracking
//
// The package also carries the HTTP-level cross-cutting pieces the server
// applies around its handlers: a Middleware chain with panic recovery,
// request ID assignment (X-Request-ID), and structured logging via
// log/slog, plus the TaskSet used to drain in-flight request-handling
// tasks on shutdown.
package transport
