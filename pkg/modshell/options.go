package modshell

import (
	mserrors "github.com/randalmurphal/modshell/pkg/modshell/errors"
)

// RegistryOption configures a LocalRegistry or RemoteRegistry.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	id             string
	maxConcurrency int
	loaderRetry    mserrors.RetryConfig
	sharedScope    func() map[string]string
}

// fanOut returns how many of n items run at once. A maxConcurrency of zero
// runs them all together.
func (c registryConfig) fanOut(n int) int {
	if c.maxConcurrency <= 0 {
		return max(n, 1)
	}
	return c.maxConcurrency
}

func defaultRegistryConfig(id string) registryConfig {
	return registryConfig{
		id:             id,
		maxConcurrency: 1,
		loaderRetry:    mserrors.NoRetry,
	}
}

// WithRegistryID overrides the registry id definitions are routed by.
func WithRegistryID(id string) RegistryOption {
	return func(c *registryConfig) {
		if id != "" {
			c.id = id
		}
	}
}

// WithMaxConcurrency sets how many modules of one batch are registered at a
// time. Default: 1 for a LocalRegistry, which invokes modules strictly in
// definition order, and unbounded for a RemoteRegistry, which starts every
// load of a batch at once. Results and events keep definition order whatever
// the value. Zero or less keeps the registry default.
func WithMaxConcurrency(n int) RegistryOption {
	return func(c *registryConfig) {
		if n > 0 {
			c.maxConcurrency = n
		}
	}
}

// WithLoaderRetry retries transient remote loader failures. Remote registry only.
func WithLoaderRetry(cfg mserrors.RetryConfig) RegistryOption {
	return func(c *registryConfig) {
		c.loaderRetry = cfg
	}
}

// WithSharedScope reports the host's shared dependency versions
// (dependency → version). They are logged when a remote fails to load.
// Remote registry only.
func WithSharedScope(fn func() map[string]string) RegistryOption {
	return func(c *registryConfig) {
		c.sharedScope = fn
	}
}
