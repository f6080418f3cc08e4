// Package jwt issues and verifies stateless access and refresh tokens. Validity
// is a function of signature and expiry only; there is no revocation store, so
// rotating the signing secret is the way to invalidate outstanding tokens.
package jwt
