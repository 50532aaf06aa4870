package extraction

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyManifestSource(t *testing.T) {
	cases := []struct {
		url    string
		server string
		want   string
	}{
		{"https://abc.shadowlandschronicles.com/stream/index.m3u8", "vidsrc.xyz", "shadowlands"},
		{"https://cdn.example/tmstr/1/index.m3u8", "vidsrc.xyz", "shadowlands"},
		{"https://cloudnestra.com/hls/index.m3u8", "vidsrc.xyz", "vidsrc"},
		{"https://cloudnestra.com/hls/index.m3u8", "embed.su", "embed.su"},
		{"https://plain-cdn.example/index.m3u8", "vidsrc.xyz", ""},
	}
	for _, c := range cases {
		got := classifyManifestSource(c.url, c.server)
		assert.Equal(t, c.want, got, "url=%s server=%s", c.url, c.server)
	}
}

func TestResolveRelative(t *testing.T) {
	base := "https://cloudnestra.com/rcp/abc123"
	assert.Equal(t, "https://cloudnestra.com/prorcp/xyz", resolveRelative(base, "/prorcp/xyz"))
	assert.Equal(t, "https://other.com/x", resolveRelative(base, "https://other.com/x"))
	assert.Equal(t, "https://cdn.example/x", resolveRelative(base, "//cdn.example/x"))
}

func TestSelectBestIframe_PrefersLastMatchingMatch(t *testing.T) {
	html := `<html><body>
		<iframe src="https://ads.example/frame"></iframe>
		<iframe src="https://cloudnestra.com/rcp/old"></iframe>
		<iframe src="https://cloudnestra.com/rcp/new"></iframe>
	</body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	got := selectBestIframe(doc, "cloudnestra.com/rcp")
	assert.Equal(t, "https://cloudnestra.com/rcp/new", got)
}

func TestHasPlayButton(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<html><body><a class="fa-play" href="/x"></a></body></html>`))
	require.NoError(t, err)
	assert.True(t, hasPlayButton(doc))

	doc2, err := goquery.NewDocumentFromReader(strings.NewReader(`<html><body><p>no button here</p></body></html>`))
	require.NoError(t, err)
	assert.False(t, hasPlayButton(doc2))
}

func TestFindShadowlandsOrDirect(t *testing.T) {
	html := `<html><body><iframe src="https://shadowlandschronicles.com/embed/abc"></iframe></body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	shadow, direct := findShadowlandsOrDirect(doc)
	assert.Equal(t, "https://shadowlandschronicles.com/embed/abc", shadow)
	assert.Empty(t, direct)

	html2 := `<html><body><script>var m = "https://cdn.example/hls/index.m3u8";</script></body></html>`
	doc2, err := goquery.NewDocumentFromReader(strings.NewReader(html2))
	require.NoError(t, err)

	shadow2, direct2 := findShadowlandsOrDirect(doc2)
	assert.Empty(t, shadow2)
	assert.Equal(t, "https://cdn.example/hls/index.m3u8", direct2)
}
