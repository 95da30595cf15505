// Package tracing provides lightweight request tracing.
//
// Every HTTP request gets a span. Trace ids arrive in the X-Trace-ID header
// or are minted as req_ ULIDs, are echoed back in the response, and are
// forwarded on outbound webhook calls. Finished spans are logged through zap
// by a single collector goroutine.
package tracing
