// Package lockout implements brute-force account lockout.
//
// The state lives on the account record (see [accounts.LockoutState]) rather
// than in a cache, so a lock survives restarts and is shared by every
// instance that talks to the same account store. Transitions are
// read-then-write; two concurrent failures may both read the same count and
// the last write wins, which can grant one extra attempt.
//
//	unlocked --failure (count < max)--> unlocked (count+1)
//	unlocked --failure (count >= max)--> locked until now+duration
//	locked   --duration elapsed, next Check--> unlocked (count 0)
//	any      --successful login--> unlocked (count 0)
package lockout
