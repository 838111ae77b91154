// Package flows contains the step logic for every token lifecycle operation.
//
// Each flow function (RunLogin, RunRefresh, RunLogout, RunAuthenticate)
// accepts the shared [Deps] and returns a result struct carrying either the
// outcome or a [FailureKind]. Flows never panic or return bare errors for
// expected failures; the engine maps failure kinds to its public errors.
//
// # Architecture boundaries
//
// Flows coordinate the signer and the key-value store without owning
// either. They do not log or count; all shared mutable state lives in the
// store.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import rtauth (to avoid import cycles).
package flows
