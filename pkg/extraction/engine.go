// Package extraction implements the ExtractionEngine (spec §4.2): driving
// the embed -> rcp -> prorcp -> shadowlands iframe chain to a final
// manifest URL.
//
// Grounded on pkg/imdb2torrent/1337x.go's check/getDoc multi-stage goquery
// page traversal (sequential HTML fetch -> parse -> find next link) and on
// other_examples/media-proxy-go's Extractor interface shape
// (CanExtract/Extract/Name), generalized into the Engine interface below.
//
// No headless-browser automation library (chromedp, go-rod, playwright)
// exists anywhere in the retrieved example pack (confirmed by grep across
// every go.mod and every other_examples file) so only HTTP mode is
// implemented for real; BrowserEngine exists as an honest, documented
// extension point rather than a faked driver (see DESIGN.md).
package extraction

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/cookiejar"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/doingodswork/shadowlands-core/pkg/model"
)

// ProgressSink receives stage-entry progress events at the engine's
// natural cadence. Implementations must not block; spec §5 requires a
// bounded channel (capacity 16) that drops oldest events under
// backpressure — see pkg/controller for the concrete sink.
type ProgressSink interface {
	Progress(stage model.Stage, percent int)
}

// NopSink discards all progress events.
type NopSink struct{}

func (NopSink) Progress(model.Stage, int) {}

// Engine drives one ExtractionSession to completion.
type Engine interface {
	// Run mutates session in place (stage, steps, progress) and returns the
	// final result or a classified error. Implementations must honor ctx
	// cancellation at each suspension point (spec §5).
	Run(ctx context.Context, session *model.ExtractionSession, sink ProgressSink) (model.ExtractionResult, error)
}

// StageSoftTimeout is the per-stage soft timeout (spec §5). It is set as the
// HTTP client's Timeout, so it bounds every request the engine makes,
// including the final manifest read.
const StageSoftTimeout = 5 * time.Second

// ManifestReadTimeout is the context deadline put on the final iframe's
// read (spec §5). The client-wide StageSoftTimeout still applies to that
// request, so the read does not get longer than StageSoftTimeout.
const ManifestReadTimeout = 10 * time.Second

// PlayButtonSelectors is the documented ordered fallback selector list
// (spec §4.2, and spec §9's note that extending it is a config change, not
// a code change — see DESIGN.md Open Question #3). Exposed as a var so a
// config layer can override it.
var PlayButtonSelectors = []string{"#pl_but", ".fa-play", "[data-testid=play-button]", ".play-btn", "button.vjs-big-play-button"}

// manifestPattern matches a bare .m3u8 URL anywhere in a document's text or
// inline scripts.
var manifestPattern = regexp.MustCompile(`https?://[^\s"'<>]+\.m3u8[^\s"'<>]*`)

// Config holds the per-server base URLs and client options the HTTP engine
// needs. BaseURL is the vidsrc-style embed host; AltBaseURL is the
// secondary server used on the last retry (spec §4.1 step 6).
type Config struct {
	BaseURL       string // e.g. "https://vidsrc.xyz"
	AltBaseURL    string // e.g. "https://embed.su"
	AltServerName string // e.g. "embed.su"
	ServerName    string // e.g. "vidsrc.xyz"
	SocksProxyAddr string // optional SOCKS5 proxy address
}

// HTTPEngine is the real, fully-implemented Engine backend: it fetches the
// same URL sequence a browser would navigate, scrapes iframe src
// attributes with goquery, and synthesizes the play-click by following the
// link a static inspection of the rcp page reveals (spec §4.2's
// documented fallback behavior for HTTP mode).
type HTTPEngine struct {
	cfg    Config
	client *http.Client
	log    *zap.Logger
}

// NewHTTPEngine builds an HTTPEngine. If cfg.SocksProxyAddr is set, all
// requests are routed through it (grounded on pkg/imdb2torrent/proxy.go's
// SOCKS5 client construction, for deployments the embed providers
// geo-block).
func NewHTTPEngine(cfg Config, log *zap.Logger) (*HTTPEngine, error) {
	client, err := newHTTPClient(cfg.SocksProxyAddr)
	if err != nil {
		return nil, fmt.Errorf("building http client: %w", err)
	}
	return &HTTPEngine{cfg: cfg, client: client, log: log}, nil
}

func newHTTPClient(socksProxyAddr string) (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	client := &http.Client{Jar: jar, Timeout: StageSoftTimeout}
	if socksProxyAddr == "" {
		return client, nil
	}
	transport, err := newSocks5Transport(socksProxyAddr)
	if err != nil {
		return nil, err
	}
	client.Transport = transport
	return client, nil
}

// Run implements Engine.
func (e *HTTPEngine) Run(ctx context.Context, session *model.ExtractionSession, sink ProgressSink) (model.ExtractionResult, error) {
	enter := func(stage model.Stage) {
		session.Stage = stage
		session.Progress = stage.Progress()
		sink.Progress(stage, session.Progress)
	}

	enter(model.StageLoadingVidsrc)
	embedURL := e.embedURL(session.Ref)
	rcpURL, err := e.findRcpURL(ctx, embedURL, session)
	if err != nil {
		return model.ExtractionResult{}, err
	}

	enter(model.StageLoadingRcp)
	rcpDoc, err := e.getDoc(ctx, rcpURL)
	if err != nil {
		session.AppendStep(model.IframeStep{Kind: model.IframeRcp, URL: rcpURL, Outcome: "fetch_error"})
		return model.ExtractionResult{}, classifyHTTPError(err)
	}
	session.AppendStep(model.IframeStep{Kind: model.IframeRcp, URL: rcpURL, Outcome: "ok"})

	enter(model.StageFindingPlayButton)
	if !hasPlayButton(rcpDoc) {
		return model.ExtractionResult{}, model.NewError(model.ErrProviderStructureChanged, fmt.Errorf("no play button matched selectors %v", PlayButtonSelectors))
	}

	enter(model.StageClickingPlayButton)
	prorcpURL, err := e.resolveProrcpURL(rcpDoc, rcpURL)
	if err != nil {
		return model.ExtractionResult{}, model.NewError(model.ErrPlayButtonClickFailed, err)
	}

	enter(model.StageLoadingProRcp)
	prorcpDoc, err := e.getDoc(ctx, prorcpURL)
	if err != nil {
		session.AppendStep(model.IframeStep{Kind: model.IframeProRcp, URL: prorcpURL, Outcome: "fetch_error"})
		return model.ExtractionResult{}, classifyHTTPError(err)
	}
	session.AppendStep(model.IframeStep{Kind: model.IframeProRcp, URL: prorcpURL, Outcome: "ok"})

	enter(model.StageLoadingShadowlands)
	shadowURL, direct := findShadowlandsOrDirect(prorcpDoc)

	enter(model.StageExtractingUrl)
	manifestURL, proxySource, err := e.resolveManifest(ctx, session, shadowURL, direct)
	if err != nil {
		return model.ExtractionResult{}, err
	}

	session.Stage = model.StageComplete
	session.Progress = 100

	chain := map[string]string{
		"vidsrc":      embedURL,
		"cloudnestra": rcpURL,
		"prorcp":      prorcpURL,
	}
	if shadowURL != "" {
		chain["shadowlands"] = shadowURL
	}

	requiresProxy := proxySource != ""
	return model.ExtractionResult{
		Ref:              session.Ref,
		ManifestURL:      manifestURL,
		StreamType:       model.StreamHLS,
		RequiresProxy:    requiresProxy,
		ProxySource:      proxySource,
		Server:           session.Server,
		ExtractionMethod: "http",
		Chain:            chain,
	}, nil
}

func (e *HTTPEngine) embedURL(ref model.CatalogRef) string {
	base := e.cfg.BaseURL
	if ref.IsEpisode() {
		return fmt.Sprintf("%s/embed/tv/%d/%d-%d", base, ref.TmdbID, ref.Season, ref.Episode)
	}
	return fmt.Sprintf("%s/embed/movie/%d", base, ref.TmdbID)
}

// findRcpURL fetches the embed page and returns the cloudnestra.com/rcp
// iframe src (spec §4.2 stage 1).
func (e *HTTPEngine) findRcpURL(ctx context.Context, embedURL string, session *model.ExtractionSession) (string, error) {
	doc, err := e.getDoc(ctx, embedURL)
	if err != nil {
		session.AppendStep(model.IframeStep{Kind: model.IframeVidsrc, URL: embedURL, Outcome: "fetch_error"})
		return "", classifyHTTPError(err)
	}

	rcpURL := selectBestIframe(doc, "cloudnestra.com/rcp")
	if rcpURL == "" {
		session.AppendStep(model.IframeStep{Kind: model.IframeVidsrc, URL: embedURL, Outcome: "no_rcp_iframe"})
		return "", model.NewError(model.ErrProviderStructureChanged, fmt.Errorf("no cloudnestra.com/rcp iframe found"))
	}
	session.AppendStep(model.IframeStep{Kind: model.IframeVidsrc, URL: embedURL, Outcome: "ok"})
	return rcpURL, nil
}

// selectBestIframe implements spec §4.2's tie-break rule: prefer the
// iframe whose src matches hostSubstr; if several match, prefer the one
// most recently inserted (last in document order).
func selectBestIframe(doc *goquery.Document, hostSubstr string) string {
	best := ""
	doc.Find("iframe").Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok {
			return
		}
		if strings.Contains(src, hostSubstr) {
			best = src
		}
	})
	return best
}

func hasPlayButton(doc *goquery.Document) bool {
	for _, sel := range PlayButtonSelectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

// resolveProrcpURL synthesizes the play-click's effect: instead of an
// actual click event, it statically inspects the rcp document for the link
// the click would have navigated an inner iframe to. Providers embed this
// either as an anchor href/data-href on the play button, or as a JSON blob
// in an inline <script> tag.
func (e *HTTPEngine) resolveProrcpURL(doc *goquery.Document, rcpURL string) (string, error) {
	for _, sel := range PlayButtonSelectors {
		btn := doc.Find(sel).First()
		if btn.Length() == 0 {
			continue
		}
		if href, ok := btn.Attr("data-href"); ok && href != "" {
			return resolveRelative(rcpURL, href), nil
		}
		if href, ok := btn.Attr("href"); ok && href != "" {
			return resolveRelative(rcpURL, href), nil
		}
	}

	found := ""
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if !strings.Contains(text, "prorcp") {
			return true
		}
		if u := gjson.Get(text, "prorcp").String(); u != "" {
			found = resolveRelative(rcpURL, u)
			return false
		}
		if m := manifestPattern.FindString(text); m != "" {
			// Not a manifest yet, but some providers inline the prorcp path
			// as a plain string; fall through to the iframe already present.
			return true
		}
		return true
	})
	if found != "" {
		return found, nil
	}

	// Fall back to an iframe that may already be present pointing at the
	// prorcp stage (some provider variants render it without a click).
	if u := selectBestIframe(doc, "cloudnestra.com/prorcp"); u != "" {
		return u, nil
	}

	return "", fmt.Errorf("could not resolve prorcp link from rcp document")
}

// findShadowlandsOrDirect implements spec §4.2 stage 4/5's preference: a
// shadowlandschronicles.com iframe if present, else a direct .m3u8
// reference in the DOM.
func findShadowlandsOrDirect(doc *goquery.Document) (shadowURL, direct string) {
	if u := selectBestIframe(doc, "shadowlandschronicles.com"); u != "" {
		return u, ""
	}
	html, err := doc.Html()
	if err == nil {
		if m := manifestPattern.FindString(html); m != "" {
			return "", m
		}
	}
	return "", ""
}

// resolveManifest obtains the final manifest URL and classifies it for
// proxying per spec §4.2 stage 5's URL-pattern rules.
func (e *HTTPEngine) resolveManifest(ctx context.Context, session *model.ExtractionSession, shadowURL, direct string) (manifestURL, proxySource string, err error) {
	if shadowURL != "" {
		readCtx, cancel := context.WithTimeout(ctx, ManifestReadTimeout)
		defer cancel()

		doc, ferr := e.getDoc(readCtx, shadowURL)
		if ferr != nil {
			session.AppendStep(model.IframeStep{Kind: model.IframeShadowlands, URL: shadowURL, Outcome: "fetch_error"})
			return "", "", classifyHTTPError(ferr)
		}
		session.AppendStep(model.IframeStep{Kind: model.IframeShadowlands, URL: shadowURL, Outcome: "ok"})

		html, _ := doc.Html()
		m := manifestPattern.FindString(html)
		if m == "" {
			return "", "", model.NewError(model.ErrNoStreamUrlFound, fmt.Errorf("no manifest url found in shadowlands document"))
		}
		return m, classifyManifestSource(m, session.Server), nil
	}

	if direct != "" {
		return direct, classifyManifestSource(direct, session.Server), nil
	}

	return "", "", model.NewError(model.ErrNoStreamUrlFound, fmt.Errorf("terminal iframe reached but no manifest matched"))
}

// classifyManifestSource implements spec §4.2 stage 5's classification
// table: shadowlands*/shadowlandschronicles.com/tmstr -> "shadowlands";
// cloudnestra.com -> the server's proxy source tag ("vidsrc" for a vidsrc*
// server, otherwise the server name; not direct, per DESIGN.md Open
// Question #2); anything else -> "" (direct, no proxy).
func classifyManifestSource(manifestURL, server string) string {
	switch {
	case strings.Contains(manifestURL, "shadowlandschronicles.com"),
		strings.Contains(manifestURL, "shadowlands"),
		strings.Contains(manifestURL, "tmstr"):
		return "shadowlands"
	case strings.Contains(manifestURL, "cloudnestra.com"):
		if strings.HasPrefix(server, "vidsrc") {
			return "vidsrc"
		}
		return server
	default:
		return ""
	}
}

func resolveRelative(base, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	idx := strings.Index(base, "://")
	if idx < 0 {
		return ref
	}
	schemeHostEnd := strings.Index(base[idx+3:], "/")
	if schemeHostEnd < 0 {
		return base + ref
	}
	return base[:idx+3+schemeHostEnd] + ref
}

// getDoc fetches urlStr and parses it as HTML, mirroring
// pkg/imdb2torrent/1337x.go's getDoc helper.
func (e *HTTPEngine) getDoc(ctx context.Context, urlStr string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, model.NewError(model.ErrUpstreamNotFound, fmt.Errorf("404 for %s", urlStr))
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, model.NewError(model.ErrUpstreamRateLimited, fmt.Errorf("429 for %s", urlStr))
	}
	if resp.StatusCode >= 500 {
		return nil, model.NewError(model.ErrUpstreamServerError, fmt.Errorf("%d for %s", resp.StatusCode, urlStr))
	}
	if resp.StatusCode >= 400 {
		body, _ := ioutil.ReadAll(resp.Body)
		return nil, model.NewError(model.ErrUpstreamServerError, fmt.Errorf("%d for %s: %s", resp.StatusCode, urlStr, truncate(string(body), 200)))
	}

	return goquery.NewDocumentFromReader(resp.Body)
}

func classifyHTTPError(err error) error {
	if _, ok := err.(*model.ExtractionError); ok {
		return err
	}
	return model.NewError(model.ErrNetworkError, err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// BrowserEngine is a documented extension point for the headless-browser
// mode spec §4.2 names as primary. No browser-automation library (chromedp,
// go-rod, playwright) appears anywhere in the retrieved example pack, so
// this type intentionally does not fake one; its Run returns
// ErrBrowserEngineUnavailable (as a ProviderStructureChanged error) rather
// than silently behaving like HTTPEngine.
type BrowserEngine struct{}

// ErrBrowserEngineUnavailable is returned by BrowserEngine.Run.
var ErrBrowserEngineUnavailable = fmt.Errorf("headless browser engine not available in this build")

func (BrowserEngine) Run(ctx context.Context, session *model.ExtractionSession, sink ProgressSink) (model.ExtractionResult, error) {
	return model.ExtractionResult{}, model.NewError(model.ErrProviderStructureChanged, ErrBrowserEngineUnavailable)
}
