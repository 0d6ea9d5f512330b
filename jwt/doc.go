// Package jwt issues and verifies HS256 identity tokens.
//
// A token carries the numeric identity id as a decimal sub claim, a display
// email claim, and iat/exp in epoch seconds. There is no revocation: a token
// is valid from iat until exp and never after. Expiry is compared strictly
// against the local clock with no leeway.
//
// [Manager.Verify] is the boundary form and reports only (id, ok); callers
// must treat a missing token and a rejected token identically.
package jwt
