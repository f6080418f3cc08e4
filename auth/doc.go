// Package auth implements the signup, login, refresh and me routes.
//
// Login runs every attempt through the lockout tracker: a locked account is
// refused before the password is checked, a wrong password counts toward the
// threshold, and a correct one clears the counter. Unknown emails and wrong
// passwords are indistinguishable to the caller in both message and hashing
// cost.
package auth
