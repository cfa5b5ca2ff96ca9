package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthsim/keg/ngdp"
	"github.com/hearthsim/keg/ngdp/config"
)

const (
	hostTemplate = "http://{region}.patch.example:1119/wow"
	patchHost    = "http://kr.patch.example:1119/wow"
	cdnBase      = "http://kr.cdn.example/tpr/wow/"

	buildConfigHash = "25a9baa02b6b96f86feb0b0461bbf3f2"
	cdnConfigHash   = "8ef77b4e62ed82583526ba4a18b4a2cc"
	patchConfigHash = "5ab32ac93593f3aadeeababdbbca425f"
	archiveHash     = "402f02e332e6c12467d2560f9ee1a5d8"
	patchHash       = "b5b069f47dbd4e2b8dcba12c5d4da2b5"

	cdnsManifest = "Name!STRING:0|Path!STRING:0|Hosts!STRING:0\n" +
		"eu|tpr/wow|eu.cdn.example backup.cdn.example\n" +
		"kr|tpr/wow|kr.cdn.example\n"

	versionsManifest = "Region!STRING:0|BuildConfig!HEX:16|CDNConfig!HEX:16|BuildId!DEC:4|VersionsName!String:0\n" +
		"us|" + buildConfigHash + "|" + cdnConfigHash + "|55646|10.2.5.55646\n" +
		"kr|" + buildConfigHash + "|" + cdnConfigHash + "|55646|10.2.5.55646\n"

	buildConfigBody = "root = 4d41a9dd6a5a2c61a9b7e19ad156b367\n" +
		"patch = " + patchHash + "\n" +
		"patch-config = " + patchConfigHash + "\n"

	cdnConfigBody = "archives = " + archiveHash + "\n"

	patchConfigBody = "patch = " + patchHash + "\n"
)

// fakeFetcher serves canned responses per URL and counts requests.
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string][]byte
	calls     map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: map[string][]byte{},
		calls:     map[string]int{},
	}
}

func (f *fakeFetcher) serve(url string, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = []byte(body)
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeFetcher) DownloadFile(ctx context.Context, urlPath string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[urlPath]++
	data, ok := f.responses[urlPath]
	if !ok {
		return nil, ngdp.ErrServer{StatusCode: 404, URL: urlPath}
	}
	return data, nil
}

func cdnURL(namespace, name string) string {
	return fmt.Sprintf("%s%s/%s/%s/%s", cdnBase, namespace, name[0:2], name[2:4], name)
}

func testClient(t *testing.T, f *fakeFetcher) *Client {
	t.Helper()
	cfg := config.New(hostTemplate, "kr")
	cfg.CacheDir = t.TempDir()
	cfg.Fetcher = f
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func serveBuild(f *fakeFetcher) {
	f.serve(patchHost+"/cdns", cdnsManifest)
	f.serve(patchHost+"/versions", versionsManifest)
	f.serve(cdnURL("config", buildConfigHash), buildConfigBody)
	f.serve(cdnURL("config", cdnConfigHash), cdnConfigBody)
	f.serve(cdnURL("config", patchConfigHash), patchConfigBody)
}

func TestNewRequiresCacheDir(t *testing.T) {
	cfg := config.New(hostTemplate, "kr")
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestCDNs(t *testing.T) {
	f := newFakeFetcher()
	f.serve(patchHost+"/cdns", cdnsManifest)
	c := testClient(t, f)

	cdns, err := c.CDNs(context.Background())
	require.NoError(t, err)
	require.Len(t, cdns, 2)
	assert.Equal(t, "eu", cdns[0].Name)
	assert.Equal(t, []string{"eu.cdn.example", "backup.cdn.example"}, cdns[0].Hosts)
	assert.Equal(t, "kr", cdns[1].Name)
}

func TestCDNBaseURLMatchesRegion(t *testing.T) {
	f := newFakeFetcher()
	f.serve(patchHost+"/cdns", cdnsManifest)
	c := testClient(t, f)

	base, err := c.CDNBaseURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cdnBase, base)
}

func TestCDNBaseURLFallsBackToFirst(t *testing.T) {
	f := newFakeFetcher()
	f.serve(patchHost+"/cdns", "Name!STRING:0|Path!STRING:0|Hosts!STRING:0\n"+
		"eu|tpr/wow|eu.cdn.example\n"+
		"us|tpr/wow|us.cdn.example\n")
	c := testClient(t, f)

	base, err := c.CDNBaseURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://eu.cdn.example/tpr/wow/", base)
}

func TestCDNBaseURLEmptyList(t *testing.T) {
	f := newFakeFetcher()
	f.serve(patchHost+"/cdns", "Name!STRING:0|Path!STRING:0|Hosts!STRING:0\n")
	c := testClient(t, f)

	_, err := c.CDNBaseURL(context.Background())
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ngdp.ErrServerConfiguration{}))
	assert.True(t, errors.Is(err, ngdp.ErrServer{}))
}

func TestCDNBaseURLResolvedOnce(t *testing.T) {
	f := newFakeFetcher()
	f.serve(patchHost+"/cdns", cdnsManifest)
	c := testClient(t, f)

	for i := 0; i < 3; i++ {
		_, err := c.CDNBaseURL(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.count(patchHost+"/cdns"))
}

func TestFetchOrCacheIdempotent(t *testing.T) {
	f := newFakeFetcher()
	f.serve(patchHost+"/cdns", cdnsManifest)
	f.serve(cdnURL("config", buildConfigHash), buildConfigBody)
	c := testClient(t, f)

	first, err := c.FetchOrCache(context.Background(), "config", buildConfigHash, "")
	require.NoError(t, err)
	second, err := c.FetchOrCache(context.Background(), "config", buildConfigHash, "")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []byte(buildConfigBody), first)
	assert.Equal(t, 1, f.count(cdnURL("config", buildConfigHash)))
}

func TestFetchOrCacheSkipsNetworkOnHit(t *testing.T) {
	f := newFakeFetcher()
	c := testClient(t, f)

	// pre-seed the cache; the fetcher has no response for this hash,
	// so any network attempt would fail
	require.NoError(t, c.Cache().Write("patch", patchHash, []byte("cached patch")))

	data, err := c.FetchOrCache(context.Background(), "patch", patchHash, "")
	require.NoError(t, err)
	assert.Equal(t, []byte("cached patch"), data)
	assert.Equal(t, 0, f.total())
}

func TestFetchOrCacheConcurrentSameKey(t *testing.T) {
	f := newFakeFetcher()
	f.serve(patchHost+"/cdns", cdnsManifest)
	f.serve(cdnURL("config", buildConfigHash), buildConfigBody)
	c := testClient(t, f)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := c.FetchOrCache(context.Background(), "config", buildConfigHash, "")
			assert.NoError(t, err)
			assert.Equal(t, []byte(buildConfigBody), data)
		}()
	}
	wg.Wait()

	// callers either shared the in-flight fetch or hit the cache
	assert.Equal(t, 1, f.count(cdnURL("config", buildConfigHash)))
}

func TestFetchOrCacheNotFound(t *testing.T) {
	f := newFakeFetcher()
	f.serve(patchHost+"/cdns", cdnsManifest)
	c := testClient(t, f)

	_, err := c.FetchOrCache(context.Background(), "patch", patchHash, "")
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ngdp.ErrNotFound{Namespace: "patch", Name: patchHash}))
}

func TestFetchData(t *testing.T) {
	f := newFakeFetcher()
	f.serve(patchHost+"/cdns", cdnsManifest)
	f.serve(cdnURL("data", archiveHash+".index"), "index bytes")
	f.serve(cdnURL("data", archiveHash), "archive bytes")
	c := testClient(t, f)

	index, data, err := c.FetchData(context.Background(), archiveHash)
	require.NoError(t, err)
	assert.Equal(t, []byte("index bytes"), index)
	assert.Equal(t, []byte("archive bytes"), data)

	// both objects are cached under the data namespace, the index
	// with its suffix
	assert.True(t, c.Cache().Contains("data", archiveHash))
	assert.True(t, c.Cache().Contains("data", archiveHash+".index"))
}

func TestVersions(t *testing.T) {
	f := newFakeFetcher()
	serveBuild(f)
	c := testClient(t, f)

	versions, err := c.Versions(context.Background())
	require.NoError(t, err)
	require.Len(t, versions, 1)

	v := versions[0]
	assert.Equal(t, "kr", v.Region)
	assert.Equal(t, "55646", v.BuildID)
	assert.Equal(t, "10.2.5.55646", v.VersionsName)

	require.NotNil(t, v.BuildConfig)
	patch, _ := v.BuildConfig.Get("patch")
	assert.Equal(t, patchHash, patch)

	require.NotNil(t, v.CDNConfig)
	archives, _ := v.CDNConfig.Get("archives")
	assert.Equal(t, archiveHash, archives)
}

func TestVersionsManifestMemoized(t *testing.T) {
	f := newFakeFetcher()
	serveBuild(f)
	c := testClient(t, f)

	for i := 0; i < 3; i++ {
		_, err := c.Versions(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.count(patchHost+"/versions"))
	assert.Equal(t, 1, f.count(cdnURL("config", buildConfigHash)))
}

func TestEachVersionStopsOnCallbackError(t *testing.T) {
	f := newFakeFetcher()
	serveBuild(f)
	c := testClient(t, f)

	sentinel := errors.New("stop")
	err := c.EachVersion(context.Background(), func(ngdp.Version) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}

func TestEachVersionCanceledContext(t *testing.T) {
	f := newFakeFetcher()
	serveBuild(f)
	c := testClient(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	err := c.EachVersion(ctx, func(ngdp.Version) error {
		cancel()
		return nil
	})
	// single matching row: cancellation after the last yield is a
	// clean finish
	require.NoError(t, err)

	err = c.EachVersion(ctx, func(ngdp.Version) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVersionsFilterByRegion(t *testing.T) {
	f := newFakeFetcher()
	serveBuild(f)
	c := testClient(t, f)

	versions, err := c.Versions(context.Background())
	require.NoError(t, err)
	for _, v := range versions {
		assert.Equal(t, "kr", v.Region)
	}
}

func TestPrefetchBuild(t *testing.T) {
	f := newFakeFetcher()
	serveBuild(f)
	f.serve(cdnURL("data", archiveHash+".index"), "index bytes")
	f.serve(cdnURL("data", archiveHash), "archive bytes")
	f.serve(cdnURL("patch", patchHash), "patch bytes")
	c := testClient(t, f)

	versions, err := c.Versions(context.Background())
	require.NoError(t, err)
	require.Len(t, versions, 1)

	require.NoError(t, c.PrefetchBuild(context.Background(), versions[0]))

	assert.True(t, c.Cache().Contains("data", archiveHash))
	assert.True(t, c.Cache().Contains("data", archiveHash+".index"))
	assert.True(t, c.Cache().Contains("patch", patchHash))
	assert.True(t, c.Cache().Contains("config", patchConfigHash))
}

func TestPrefetchBuildPatchConfigMismatch(t *testing.T) {
	f := newFakeFetcher()
	serveBuild(f)
	f.serve(cdnURL("data", archiveHash+".index"), "index bytes")
	f.serve(cdnURL("data", archiveHash), "archive bytes")
	f.serve(cdnURL("patch", patchHash), "patch bytes")
	// patch config disagrees with the build config about the ekey
	f.serve(cdnURL("config", patchConfigHash), "patch = 1234567890abcdef\n")
	c := testClient(t, f)

	versions, err := c.Versions(context.Background())
	require.NoError(t, err)

	err = c.PrefetchBuild(context.Background(), versions[0])
	assert.Error(t, err)
	assert.IsType(t, ngdp.ErrParse{}, err)
}

func TestManifestPersistedToCache(t *testing.T) {
	f := newFakeFetcher()
	f.serve(patchHost+"/cdns", cdnsManifest)
	c := testClient(t, f)

	_, err := c.CDNs(context.Background())
	require.NoError(t, err)

	// raw manifest body lands in the cdns namespace keyed by its md5
	assert.True(t, c.Cache().Contains("cdns", "64b1c45cb8d89c4eea45e773fd120d6a"))
}
