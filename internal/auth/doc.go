// Package auth issues and validates the bearer tokens that bind a contact
// form session to the caller's IP address.
//
// Tokens are HS256 JWTs carrying an ip_address claim and an iat timestamp.
// An exp claim is added only when a lifetime is configured; otherwise tokens
// stay valid until the signing secret changes.
package auth
