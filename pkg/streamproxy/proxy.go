// Package streamproxy implements the StreamProxy (spec §4.3): a range-aware
// reverse proxy mediating CORS/hotlink restrictions between the client and
// upstream CDNs, rewriting HLS manifests to loop back through itself.
//
// Grounded on cmd/rd-proxy/main.go (httputil.NewSingleHostReverseProxy base,
// header stripping/injection, Slowloris-defense server timeouts) and on
// other_examples/media-proxy-go's pkg-services-proxy.go.go (decodeURL,
// buildProxyURL, DetermineStreamType) for URL encode/decode and stream-type
// classification, extended here for range-awareness and manifest rewriting
// per spec §4.3 which the teacher's single-target proxy does not need.
package streamproxy

import (
	"bufio"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// HeaderPolicy is the Origin/Referer pair applied to the outbound request
// for a given source tag, per spec §4.3's table.
type HeaderPolicy struct {
	Origin  string
	Referer string
}

// DefaultHeaderPolicies is spec §4.3's per-source header policy table.
var DefaultHeaderPolicies = map[string]HeaderPolicy{
	"shadowlands": {Origin: "https://cloudnestra.com", Referer: "https://cloudnestra.com/"},
	"vidsrc":      {Origin: "https://vidsrc.xyz", Referer: "https://vidsrc.xyz/"},
	"embed.su":    {Origin: "https://embed.su", Referer: "https://embed.su/"},
	"cloudnestra": {Origin: "https://cloudnestra.com", Referer: "https://cloudnestra.com/"},
}

// StealthUserAgent is the realistic desktop user agent injected on every
// outbound request, matching the general stealth profile (spec §4.3 step 3).
const StealthUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Proxy is the StreamProxy HTTP handler.
type Proxy struct {
	client   *http.Client
	policies map[string]HeaderPolicy
	log      *zap.Logger
}

// New builds a Proxy. client should have no application-level timeout, per
// spec §5 ("StreamProxy upstream request has no application timeout; it is
// constrained only by the client's willingness to wait and by upstream TCP
// timeouts").
func New(client *http.Client, log *zap.Logger) *Proxy {
	return &Proxy{client: client, policies: DefaultHeaderPolicies, log: log}
}

// ServeHTTP implements GET /api/stream-proxy?url={upstream}&source={tag},
// per spec §4.3 and §6.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	upstreamURL := q.Get("url")
	source := q.Get("source")

	parsed, err := url.Parse(upstreamURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		http.Error(w, `{"error":"invalid_url"}`, http.StatusBadRequest)
		return
	}

	method := r.Method
	if method != http.MethodGet && method != http.MethodHead {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), method, upstreamURL, nil)
	if err != nil {
		http.Error(w, `{"error":"invalid_url"}`, http.StatusBadRequest)
		return
	}

	// Copy only the client headers spec §4.3 step 2 names; drop the rest.
	if rng := r.Header.Get("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}
	if ims := r.Header.Get("If-Modified-Since"); ims != "" {
		req.Header.Set("If-Modified-Since", ims)
	}
	if inm := r.Header.Get("If-None-Match"); inm != "" {
		req.Header.Set("If-None-Match", inm)
	}

	policy, ok := p.policies[source]
	if !ok {
		policy = HeaderPolicy{}
	}
	if policy.Origin != "" {
		req.Header.Set("Origin", policy.Origin)
	}
	if policy.Referer != "" {
		req.Header.Set("Referer", policy.Referer)
	}
	req.Header.Set("User-Agent", StealthUserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Warn("upstream request failed", zap.String("url", upstreamURL), zap.Error(err))
		writeUpstreamError(w, nil)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		p.log.Warn("upstream server error", zap.String("url", upstreamURL), zap.Int("status", resp.StatusCode))
		status := resp.StatusCode
		writeUpstreamError(w, &status)
		return
	}

	if resp.StatusCode >= 400 {
		// Forward 4xx as-is, per spec §4.3 error surface.
		copyPassthroughHeaders(w.Header(), resp.Header)
		setCORS(w.Header())
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
		return
	}

	if method == http.MethodHead {
		copyPassthroughHeaders(w.Header(), resp.Header)
		setCORS(w.Header())
		w.WriteHeader(resp.StatusCode)
		return
	}

	reader := bufio.NewReader(resp.Body)
	prefix, _ := reader.Peek(7) // len("#EXTM3U")
	ct := resp.Header.Get("Content-Type")
	manifest := strings.Contains(ct, "mpegurl") || string(prefix) == "#EXTM3U"

	if manifest {
		p.serveManifest(w, resp, reader, parsed, source)
		return
	}

	copyPassthroughHeaders(w.Header(), resp.Header)
	setCORS(w.Header())
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, reader)
}

func (p *Proxy) serveManifest(w http.ResponseWriter, resp *http.Response, body io.Reader, upstreamURL *url.URL, source string) {
	raw, err := ioutil.ReadAll(body)
	if err != nil {
		writeUpstreamError(w, nil)
		return
	}

	rewritten := RewriteManifest(string(raw), upstreamURL, source)

	copyPassthroughHeaders(w.Header(), resp.Header)
	setCORS(w.Header())
	w.Header().Set("Content-Length", strconv.Itoa(len(rewritten)))
	w.WriteHeader(resp.StatusCode)
	io.WriteString(w, rewritten)
}

func copyPassthroughHeaders(dst, src http.Header) {
	for _, h := range []string{"Content-Type", "Content-Length", "Content-Range", "Accept-Ranges", "Last-Modified", "ETag"} {
		if v := src.Get(h); v != "" {
			dst.Set(h, v)
		}
	}
}

func setCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
}

func writeUpstreamError(w http.ResponseWriter, upstreamStatus *int) {
	setCORS(w.Header())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	if upstreamStatus != nil {
		fmt.Fprintf(w, `{"error":"upstream_error","upstream_status":%d}`, *upstreamStatus)
		return
	}
	io.WriteString(w, `{"error":"upstream_error","upstream_status":null}`)
}

// BuildProxyURL builds the "/api/stream-proxy?url=...&source=..." form spec
// §3's requires_proxy invariant and §6 require, grounded on
// other_examples/media-proxy-go's buildProxyURL. Parameter order (url
// first, then source) is fixed to match spec §8's literal manifest-rewrite
// scenario, so url.Values's alphabetical encoding isn't used here.
func BuildProxyURL(rewriteBase, upstreamURL, source string) string {
	return strings.TrimRight(rewriteBase, "/") + "/api/stream-proxy?url=" +
		url.QueryEscape(upstreamURL) + "&source=" + url.QueryEscape(source)
}
