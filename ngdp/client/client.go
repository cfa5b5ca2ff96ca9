package client

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/hearthsim/keg/ngdp"
	"github.com/hearthsim/keg/ngdp/cache"
	"github.com/hearthsim/keg/ngdp/config"
	"github.com/hearthsim/keg/ngdp/fetcher"
)

// NGDP client implementation
// The "Client" talks to one patch host for one region and routes
// every content fetch through a local content-addressed cache.
// High-level description of "Client" functionality:
//   - "CDNs()" lists the CDN presences the patch host publishes and
//     "CDNBaseURL()" resolves the one serving this client's region
//     (first entry when the region has none), exactly once per
//     client.
//   - "EachVersion()" / "Versions()" enumerate the published builds
//     for the region, resolving each build's BuildConfig and
//     CDNConfig references into parsed configuration objects.
//   - "FetchConfig()", "FetchData()" and "FetchPatch()" retrieve
//     hash-addressed content from the CDN, transparently cached;
//     "FetchOrCache()" is the underlying primitive for advanced
//     callers.

type Client struct {
	host    string
	region  string
	cfg     *config.ClientConfig
	fetcher fetcher.Fetcher
	cache   *cache.Cache

	mu        sync.Mutex
	cdn       string // resolved CDN base URL, "" until resolved
	manifests map[string][]ngdp.Row

	group singleflight.Group
}

// New creates a new "Client" instance from a configuration. The
// fetcher defaults to the built-in HTTP one with the configured
// retry policy.
func New(cfg *config.ClientConfig) (*Client, error) {
	if cfg.HostTemplate == "" || cfg.Region == "" {
		return nil, fmt.Errorf("host template and region must be set")
	}
	if cfg.CacheDir == "" {
		return nil, fmt.Errorf("cache directory must be set")
	}
	f := cfg.Fetcher
	if f == nil {
		f = fetcher.New(cfg.RequestTimeout, cfg.RetryAttempts, cfg.RetryBackoff)
	}
	return &Client{
		host:      strings.ReplaceAll(cfg.HostTemplate, "{region}", cfg.Region),
		region:    cfg.Region,
		cfg:       cfg,
		fetcher:   f,
		cache:     cache.New(cfg.CacheDomain, cfg.CacheDir),
		manifests: map[string][]ngdp.Row{},
	}, nil
}

// Region returns the region this client enumerates.
func (c *Client) Region() string {
	return c.region
}

// Cache returns the client's content cache.
func (c *Client) Cache() *cache.Cache {
	return c.cache
}

// manifest fetches a manifest path ("/cdns", "/versions") from the
// patch host and parses it, memoizing the rows per path so repeated
// iteration reuses the single parse. The raw response body is also
// persisted in the cache under the "cdns" namespace, keyed by its
// md5, so a build walk leaves an audit trail of the manifests it saw.
func (c *Client) manifest(ctx context.Context, path string) ([]ngdp.Row, error) {
	c.mu.Lock()
	rows, ok := c.manifests[path]
	c.mu.Unlock()
	if ok {
		return rows, nil
	}
	url := c.host + path
	ngdp.GetLogger().Info("GET", "url", url)
	data, err := c.fetcher.DownloadFile(ctx, url)
	if err != nil {
		return nil, err
	}
	sum := md5.Sum(data)
	if err := c.cache.Write(ngdp.CDNS, hex.EncodeToString(sum[:]), data); err != nil {
		return nil, err
	}
	m, err := ngdp.ParseManifest(data)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.manifests[path] = m.Rows
	c.mu.Unlock()
	return m.Rows, nil
}

// CDNs lists the CDN presences published by the patch host.
func (c *Client) CDNs(ctx context.Context) ([]ngdp.CDN, error) {
	rows, err := c.manifest(ctx, "/cdns")
	if err != nil {
		return nil, err
	}
	cdns := make([]ngdp.CDN, 0, len(rows))
	for _, row := range rows {
		cdns = append(cdns, ngdp.CDNFromRow(row))
	}
	return cdns, nil
}

// CDNBaseURL resolves the base URL content is served from. The CDN
// descriptor whose name matches the client's region wins; a region
// without its own CDN entry falls back to the first descriptor, which
// is a policy decision, not an error. The resolution happens at most
// once per client.
func (c *Client) CDNBaseURL(ctx context.Context) (string, error) {
	c.mu.Lock()
	resolved := c.cdn
	c.mu.Unlock()
	if resolved != "" {
		return resolved, nil
	}
	cdns, err := c.CDNs(ctx)
	if err != nil {
		return "", err
	}
	if len(cdns) == 0 {
		return "", ngdp.ErrServerConfiguration{Msg: "no CDN available"}
	}
	i := slices.IndexFunc(cdns, func(cdn ngdp.CDN) bool { return cdn.Name == c.region })
	if i < 0 {
		i = 0
	}
	if len(cdns[i].Hosts) == 0 {
		return "", ngdp.ErrServerConfiguration{Msg: fmt.Sprintf("CDN %q has no hosts", cdns[i].Name)}
	}
	resolved = fmt.Sprintf("http://%s/%s/", cdns[i].Hosts[0], cdns[i].Path)
	c.mu.Lock()
	c.cdn = resolved
	c.mu.Unlock()
	return resolved, nil
}

// EachVersion calls fn for every published build of the client's
// region, in manifest order. Each yielded version carries its
// BuildConfig and CDNConfig resolved into parsed configurations.
// Iteration stops at the first fn error or when ctx is done; the
// underlying manifest fetch is memoized, so re-iterating does not
// re-issue the network request.
func (c *Client) EachVersion(ctx context.Context, fn func(ngdp.Version) error) error {
	rows, err := c.manifest(ctx, "/versions")
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row["Region"] != c.region {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		v := ngdp.VersionFromRow(row)
		if v.BuildConfig, err = c.FetchConfig(ctx, v.BuildConfigHash); err != nil {
			return err
		}
		if v.CDNConfig, err = c.FetchConfig(ctx, v.CDNConfigHash); err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

// Versions collects the region's builds into a slice. See EachVersion.
func (c *Client) Versions(ctx context.Context) ([]ngdp.Version, error) {
	var versions []ngdp.Version
	err := c.EachVersion(ctx, func(v ngdp.Version) error {
		versions = append(versions, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return versions, nil
}

// FetchOrCache returns the content bytes for (namespace, hash),
// stored locally under name (pass "" to store under the hash itself).
// A cache hit skips the network entirely; a miss fetches
// <cdn>/<namespace>/<name[0:2]>/<name[2:4]>/<name> from the CDN and
// writes through the cache before returning. Concurrent callers for
// the same key share a single fetch, and repeated calls never
// re-fetch once cached. A 404 from the CDN surfaces as ErrNotFound.
func (c *Client) FetchOrCache(ctx context.Context, namespace, hash, name string) ([]byte, error) {
	if name == "" {
		name = hash
	}
	data, err, _ := c.group.Do(namespace+"/"+name, func() (any, error) {
		if c.cache.Contains(namespace, name) {
			return c.cache.Read(namespace, name)
		}
		return c.fetchRemote(ctx, namespace, name)
	})
	if err != nil {
		return nil, err
	}
	return data.([]byte), nil
}

// fetchRemote downloads one content object from the CDN and persists
// it. The remote layout shards by the first two and next two hex
// characters of the name; a suffixed name like "<hash>.index" keeps
// the hash's prefixes since the name starts with the hash.
func (c *Client) fetchRemote(ctx context.Context, namespace, name string) ([]byte, error) {
	base, err := c.CDNBaseURL(ctx)
	if err != nil {
		return nil, err
	}
	p1, p2, full, err := ngdp.SplitHash(name)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s%s/%s/%s/%s", base, namespace, p1, p2, full)
	ngdp.GetLogger().Info("GET", "url", url)
	data, err := c.fetcher.DownloadFile(ctx, url)
	if err != nil {
		var serverErr ngdp.ErrServer
		if errors.As(err, &serverErr) && serverErr.StatusCode == 404 {
			return nil, ngdp.ErrNotFound{Namespace: namespace, Name: name}
		}
		return nil, err
	}
	if err := c.cache.Write(namespace, name, data); err != nil {
		return nil, err
	}
	return data, nil
}

// FetchConfig retrieves and parses the configuration object hash
// references (a BuildConfig, CDNConfig or patch config).
func (c *Client) FetchConfig(ctx context.Context, hash string) (*ngdp.FlatINI, error) {
	data, err := c.FetchOrCache(ctx, ngdp.CONFIG, hash, "")
	if err != nil {
		return nil, err
	}
	return ngdp.ParseFlatINI(data)
}

// FetchData retrieves an archive and its index, returning
// (index, data).
func (c *Client) FetchData(ctx context.Context, hash string) ([]byte, []byte, error) {
	index, err := c.FetchOrCache(ctx, ngdp.DATA, hash, hash+".index")
	if err != nil {
		return nil, nil, err
	}
	data, err := c.FetchOrCache(ctx, ngdp.DATA, hash, "")
	if err != nil {
		return nil, nil, err
	}
	return index, data, nil
}

// FetchPatch retrieves a patch object.
func (c *Client) FetchPatch(ctx context.Context, hash string) ([]byte, error) {
	return c.FetchOrCache(ctx, ngdp.PATCH, hash, "")
}

// PrefetchBuild downloads everything one build references: the
// archives named by its CDNConfig (with their indices), the patch
// ekey named by its BuildConfig, and the patch config, which must
// agree with the BuildConfig on the patch ekey. Archives are fetched
// through a bounded worker pool since distinct hashes have no
// ordering dependency.
func (c *Client) PrefetchBuild(ctx context.Context, v ngdp.Version) error {
	if v.BuildConfig == nil || v.CDNConfig == nil {
		return fmt.Errorf("version %s has unresolved configs", v.BuildID)
	}
	if archives, ok := v.CDNConfig.Get("archives"); ok {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.maxConcurrent())
		for _, archive := range strings.Fields(archives) {
			archive := archive
			g.Go(func() error {
				_, _, err := c.FetchData(gctx, archive)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	patchEkey, ok := v.BuildConfig.Get("patch")
	if !ok {
		return nil
	}
	if _, err := c.FetchPatch(ctx, patchEkey); err != nil {
		return err
	}
	patchConfigHash, ok := v.BuildConfig.Get("patch-config")
	if !ok {
		return nil
	}
	patchConfig, err := c.FetchConfig(ctx, patchConfigHash)
	if err != nil {
		return err
	}
	if got, _ := patchConfig.Get("patch"); got != patchEkey {
		return ngdp.ErrParse{Msg: fmt.Sprintf("patch config %s names patch %q, build config names %q", patchConfigHash, got, patchEkey)}
	}
	return nil
}

func (c *Client) maxConcurrent() int {
	if c.cfg.MaxConcurrent > 0 {
		return c.cfg.MaxConcurrent
	}
	return 1
}
