package cache

import "strings"

// Keyer derives cache keys for the values cudaredist caches.
type Keyer interface {
	// HTTPKey keys a raw HTTP response body.
	HTTPKey(namespace, key string) string
	// ManifestKey keys a parsed manifest for one redistributable version.
	ManifestKey(redist, version string) string
}

// DefaultKeyer produces readable keys of the form "http:<ns>:<key>".
type DefaultKeyer struct{}

// NewDefaultKeyer returns the default Keyer.
func NewDefaultKeyer() Keyer { return DefaultKeyer{} }

// HTTPKey implements Keyer.
func (DefaultKeyer) HTTPKey(namespace, key string) string {
	return "http:" + strings.TrimSuffix(namespace, ":") + ":" + key
}

// ManifestKey implements Keyer.
func (DefaultKeyer) ManifestKey(redist, version string) string {
	return hashKey("manifest", redist, version)
}

// ScopedKeyer wraps a Keyer with a prefix, so that several tools can share
// one Redis instance without colliding.
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix.
// The prefix is prepended to all generated keys.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{inner: inner, prefix: prefix}
}

// HTTPKey implements Keyer.
func (k *ScopedKeyer) HTTPKey(namespace, key string) string {
	return k.prefix + k.inner.HTTPKey(namespace, key)
}

// ManifestKey implements Keyer.
func (k *ScopedKeyer) ManifestKey(redist, version string) string {
	return k.prefix + k.inner.ManifestKey(redist, version)
}
