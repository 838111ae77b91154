// Package userstore keeps sign-in accounts in SQLite and serves them to the
// engine as an rtauth.UserProvider. The schema is embedded and migrated on
// Open.
package userstore
