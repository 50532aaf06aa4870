// Package subtitles implements the SubtitleResolver (spec §4.5): per-
// language lookup against an external subtitle catalog, lazy gzip-aware
// download, and SRT->WebVTT conversion.
//
// Grounded on other_examples/movie-watcher's subtitle_handlers.go (source
// fallback chain, WEBVTT-prefix detection, response header conventions)
// for the list/download flow shape; the SRT->WebVTT bit-level conversion
// itself (srt.go) is written directly from spec §4.5's rules since no
// teacher/pack implementation of the conversion exists.
package subtitles

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/doingodswork/shadowlands-core/pkg/model"
)

// PerLanguageTimeout is the subtitle per-language fetch timeout (spec §5).
const PerLanguageTimeout = 10 * time.Second

// catalogEntry is one ranked result from the external subtitle catalog.
type catalogEntry struct {
	ID           string `json:"id"`
	LanguageName string `json:"language"`
	LanguageCode string `json:"langcode"`
	DownloadLink string `json:"downloadLink"`
	Rank         int    `json:"rank"`
}

type catalogResponse struct {
	Success    bool           `json:"success"`
	Subtitles  []catalogEntry `json:"subtitles"`
}

// Resolver is the SubtitleResolver component.
type Resolver struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *zap.Logger
}

// NewResolver builds a Resolver against the external subtitle catalog at
// baseURL, authenticated with apiKey (read once at startup, never logged —
// per SPEC_FULL.md §A).
func NewResolver(baseURL, apiKey string, log *zap.Logger) *Resolver {
	return &Resolver{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: PerLanguageTimeout},
		log:        log,
	}
}

// Resolve implements spec §4.5's list phase: one request per requested
// language, in order; languages with no result are omitted, not an error.
func (r *Resolver) Resolve(ctx context.Context, imdbID string, season, episode int, languages []string) ([]model.SubtitleDescriptor, error) {
	var (
		descriptors []model.SubtitleDescriptor
		errs        error
	)

	for _, lang := range languages {
		reqCtx, cancel := context.WithTimeout(ctx, PerLanguageTimeout)
		entry, err := r.fetchBest(reqCtx, imdbID, lang, season, episode)
		cancel()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("language %s: %w", lang, err))
			continue
		}
		if entry == nil {
			// No result for this language: not an error, per spec §4.5.
			continue
		}
		descriptors = append(descriptors, model.SubtitleDescriptor{
			LanguageCode: entry.LanguageCode,
			LanguageName: entry.LanguageName,
			QualityRank:  entry.Rank,
			ContentID:    contentHash(entry.DownloadLink),
			DownloadLink: entry.DownloadLink,
		})
	}

	return descriptors, errs
}

func (r *Resolver) fetchBest(ctx context.Context, imdbID, languageID string, season, episode int) (*catalogEntry, error) {
	q := url.Values{}
	q.Set("imdbId", imdbID)
	q.Set("languageId", languageID)
	if season > 0 {
		q.Set("season", fmt.Sprintf("%d", season))
	}
	if episode > 0 {
		q.Set("episode", fmt.Sprintf("%d", episode))
	}

	reqURL := r.baseURL + "/subtitles?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	if r.apiKey != "" {
		req.Header.Set("X-Api-Key", r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, model.NewError(model.ErrNetworkError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, model.NewError(model.ErrUpstreamServerError, fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, model.NewError(model.ErrUpstreamServerError, fmt.Errorf("status %d", resp.StatusCode))
	}

	var parsed catalogResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding catalog response: %w", err)
	}
	if len(parsed.Subtitles) == 0 {
		return nil, nil
	}
	best := parsed.Subtitles[0]
	return &best, nil
}

// Download implements spec §4.5's lazy download phase: fetch the chosen
// entry's download URL, decompress gzip if indicated, detect WebVTT vs SRT,
// and convert. Returns the WebVTT body and its content hash.
func (r *Resolver) Download(ctx context.Context, downloadLink string) (vtt []byte, contentID string, err error) {
	reqCtx, cancel := context.WithTimeout(ctx, PerLanguageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, downloadLink, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, "", model.NewError(model.ErrNetworkError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, "", model.NewError(model.ErrUpstreamServerError, fmt.Errorf("status %d downloading %s", resp.StatusCode, downloadLink))
	}

	var reader io.Reader = resp.Body
	if strings.HasSuffix(downloadLink, ".gz") || resp.Header.Get("Content-Encoding") == "gzip" {
		gz, gerr := gzip.NewReader(resp.Body)
		if gerr != nil {
			return nil, "", fmt.Errorf("opening gzip stream: %w", gerr)
		}
		defer gz.Close()
		reader = gz
	}

	raw, err := ioutil.ReadAll(reader)
	if err != nil {
		return nil, "", fmt.Errorf("reading subtitle body: %w", err)
	}

	body := string(raw)
	var out string
	if strings.HasPrefix(strings.TrimSpace(body), "WEBVTT") {
		out = body
	} else {
		converted, convErr := SRTtoVTT(body)
		if convErr != nil {
			return nil, "", model.NewError(model.ErrSubtitleFormatError, convErr)
		}
		out = converted
	}

	id := contentHash(out)
	return []byte(out), id, nil
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
