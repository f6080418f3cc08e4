// Package internal holds helpers private to goShield.
//
// # Sub-packages
//
//   - audit: async security-event dispatch (Dispatcher and Sink implementations)
//   - confloader: layered configuration from file, dotenv and environment
//   - observability: structured logger construction and Sentry setup
//   - rate: Redis sliding-window rate limit primitives
//   - security: start-up posture report
package internal
