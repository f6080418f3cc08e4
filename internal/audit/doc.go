// Package audit delivers security events (failed logins, lockouts, locked
// account probes, rate-limit and CSRF rejections) to an observability sink
// without blocking the request path.
//
// # Components
//
//   - [Sink] — event consumer (slog, JSON lines, channel, no-op).
//   - [Dispatcher] — buffered async relay with drop-if-full / block-if-full semantics.
//   - [Event] — structured record with timestamp, type, account, IP and route.
//
// # What this package must NOT do
//
//   - Decide which events to emit (callers do).
//   - Return sink failures to callers; delivery is fire-and-forget.
package audit
