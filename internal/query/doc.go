// Package query is a keyed, in-process cache for asynchronous reads.
//
// A query is identified by a [Key] and produced by a fetch function. The
// [Client] de-duplicates concurrent fetches of the same key, keeps the last
// good value, refetches in the background once data is older than
// Config.StaleTime and drops entries nobody has used for Config.GCTime.
//
// [Use] never blocks: it returns the current [Result] and starts a fetch
// when needed. [Fetch] waits for a first value until its context is done.
// Fetches run on the client's own context, so a caller that gives up waiting
// never cancels work another request will pick up.
package query
