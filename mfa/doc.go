// Package mfa verifies time-based one-time codes for the second factor.
//
// The secret is the base32 string stored with the user; the engine looks it
// up for the caller and hands it to [Verifier.Verify]. Enrollment produces a
// new secret and an otpauth:// URI for authenticator apps.
package mfa
