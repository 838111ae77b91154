// Package password hashes and verifies user passwords.
//
// Two formats are understood: bcrypt ($2a$, $2b$, $2y$) and argon2id in PHC
// string format. [Checker] picks the algorithm from the stored hash, so a
// user table may hold both while migrating.
//
// This package never stores passwords and never logs plaintext or hash
// parameters.
package password
