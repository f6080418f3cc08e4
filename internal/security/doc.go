// Package security derives a read-only posture report from the shield
// configuration. The report is logged at start-up and never affects request
// handling.
package security
