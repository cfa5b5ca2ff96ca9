package config

import (
	"time"

	"github.com/hearthsim/keg/ngdp/fetcher"
)

// ClientConfig carries everything a client needs up front: where the
// patch host lives, which region to enumerate, where the local cache
// roots, and the transport policy. CacheDir has no default on
// purpose; resolving a user-level cache directory is the bootstrap
// layer's job.
type ClientConfig struct {
	HostTemplate   string // patch host URL with a {region} placeholder
	Region         string
	CacheDomain    string // cache namespace root, identifies the client
	CacheDir       string
	Fetcher        fetcher.Fetcher
	MaxConcurrent  int // bound on parallel content prefetches
	RequestTimeout time.Duration
	RetryAttempts  int
	RetryBackoff   time.Duration
}

// New creates a new ClientConfig instance with the default transport
// policy for the given patch host template and region.
func New(hostTemplate, region string) *ClientConfig {
	return &ClientConfig{
		HostTemplate:   hostTemplate,
		Region:         region,
		CacheDomain:    "info.hearthsim.keg",
		MaxConcurrent:  4,
		RequestTimeout: 30 * time.Second,
		RetryAttempts:  3,
		RetryBackoff:   500 * time.Millisecond,
	}
}
