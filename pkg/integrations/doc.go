// Package integrations provides the HTTP client used to talk to vendor
// download servers.
//
// [Client] is shared infrastructure: response caching through a
// [cache.Cache], a retry [httputil.Policy] (single attempt by default), and
// classification of failures as TRANSPORT_ERROR. Vendor-specific clients
// live in subpackages and embed it:
//
//   - [nvidia]: redistributable index and manifest download
//
// Every transport failure is an *errors.Error with code TRANSPORT_ERROR.
// A 404 additionally wraps [ErrNotFound]; connection failures and other
// statuses wrap [ErrNetwork]. 5xx responses and connection failures are
// marked retryable.
package integrations
