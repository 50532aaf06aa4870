package streamproxy

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Verifies spec §8's literal "Manifest rewrite" scenario.
func TestRewriteManifest_SpecExample(t *testing.T) {
	body := "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1280000\nhttps://cdn.example/1080p/index.m3u8\n"
	upstream, err := url.Parse("https://cdn.example/master.m3u8")
	require.NoError(t, err)

	got := RewriteManifest(body, upstream, "shadowlands")

	want := "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1280000\n/api/stream-proxy?url=https%3A%2F%2Fcdn.example%2F1080p%2Findex.m3u8&source=shadowlands\n"
	assert.Equal(t, want, got)
}

func TestRewriteManifest_RewritesRelativeURIsAgainstManifestURL(t *testing.T) {
	body := "#EXTM3U\nsegment_0.ts\n"
	upstream, err := url.Parse("https://cdn.example/hls/1080p/index.m3u8")
	require.NoError(t, err)

	got := RewriteManifest(body, upstream, "vidsrc")

	assert.Contains(t, got, url.QueryEscape("https://cdn.example/hls/1080p/segment_0.ts"))
}

func TestRewriteManifest_RewritesURIAttributeInTags(t *testing.T) {
	body := `#EXTM3U
#EXT-X-KEY:METHOD=AES-128,URI="key.bin"
#EXT-X-MAP:URI="init.mp4"
segment_0.ts
`
	upstream, err := url.Parse("https://cdn.example/hls/index.m3u8")
	require.NoError(t, err)

	got := RewriteManifest(body, upstream, "shadowlands")

	assert.Contains(t, got, `URI="/api/stream-proxy?url=`+url.QueryEscape("https://cdn.example/hls/key.bin")+"&source=shadowlands\"")
	assert.Contains(t, got, `URI="/api/stream-proxy?url=`+url.QueryEscape("https://cdn.example/hls/init.mp4")+"&source=shadowlands\"")
	// EXT-X-KEY's METHOD attribute and the tag name itself survive verbatim.
	assert.Contains(t, got, "METHOD=AES-128")
}

// Verifies spec §8 property 3: for requires_proxy results, the rewritten
// manifest body must contain no URIs pointing outside the proxy.
func TestRewriteManifest_NoExternalURIsSurvive(t *testing.T) {
	body := "#EXTM3U\nhttps://cdn.example/a.ts\nhttps://cdn.example/b.ts\n"
	upstream, _ := url.Parse("https://cdn.example/index.m3u8")

	got := RewriteManifest(body, upstream, "vidsrc")

	assert.NotContains(t, got, "https://cdn.example/a.ts")
	assert.NotContains(t, got, "https://cdn.example/b.ts")
}
