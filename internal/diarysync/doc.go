// Package diarysync reconciles the local food diary with the remote backend.
//
// The pull pass is additive and best-effort: remote rows with no local
// counterpart are inserted, failures are logged and recorded but never
// returned. The push pass uploads today's analyzed, unsynced entries as a
// single batch and returns its errors to the caller.
//
// Every push batch is written to a local ledger before it is sent and is
// completed, together with its entries, in one transaction after the
// backend accepts it. A batch left pending by a crash or a failed call is
// resent with the same batch id on the next push, so the backend can
// discard the duplicate.
package diarysync
