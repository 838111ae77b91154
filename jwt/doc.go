// Package jwt issues and verifies the self-contained access and refresh tokens
// used by rtauth. Each token class is sealed with its own HMAC key so a leaked
// access key cannot forge refresh tokens and the reverse.
package jwt
