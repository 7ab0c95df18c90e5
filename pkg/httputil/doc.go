// Package httputil holds the retry policy applied by the manifest fetch
// client. Detection and resolution never retry; only transport failures
// marked with [RetryableError] are candidates.
package httputil
