// Package password hashes and verifies passwords with Argon2id and checks
// password strength at signup.
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher.NeedsRehash] reports hashes produced with weaker parameters so the
// caller can re-hash on the next successful login. [Hasher.VerifyDummy] lets
// login spend the same work on unknown accounts as on known ones.
//
// This package never stores passwords and never logs them.
package password
