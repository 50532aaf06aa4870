// Package metadata implements the MetadataClient (spec §2 #1, §6
// `/api/tmdb`): a thin outbound client to a third-party catalog API
// returning titles, runtimes, and external ids (notably the IMDB id needed
// for subtitle lookup).
//
// Grounded on pkg/cinemata/client.go + pkg/cinemata/cache.go's
// cache-check -> GET -> gjson field extraction -> cache write shape, and on
// pkg/metafetcher/client.go's fallback-chain pattern (try backend A, fall
// back to backend B on error) — re-grounded here on a primary catalog API
// with an HTTP mirror fallback instead of gRPC, since the spec names only a
// third-party catalog API, not an internal gRPC service (see SPEC_FULL.md
// §B and DESIGN.md's dropped-grpc entry).
package metadata

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/doingodswork/shadowlands-core/pkg/cachelayer"
)

// Details is the subset of third-party catalog fields the core needs.
type Details struct {
	TmdbID   int
	ImdbID   string
	Title    string
	Year     int
	RuntimeMinutes int
}

// Client is the MetadataClient.
type Client struct {
	primaryBaseURL  string
	fallbackBaseURL string // optional second mirror, tried on primary error
	apiKey          string
	httpClient      *http.Client
	cache           *cachelayer.LRU
	log             *zap.Logger
}

// NewClient builds a MetadataClient. fallbackBaseURL may be empty to
// disable the fallback mirror.
func NewClient(primaryBaseURL, fallbackBaseURL, apiKey string, log *zap.Logger) *Client {
	return &Client{
		primaryBaseURL:  primaryBaseURL,
		fallbackBaseURL: fallbackBaseURL,
		apiKey:          apiKey,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		cache:           cachelayer.NewLRU(1000, 24*time.Hour),
		log:             log,
	}
}

// GetMovieDetails fetches movie details by tmdb id, per §6
// `/api/tmdb?action=getMovieDetails&movieId=<id>`.
func (c *Client) GetMovieDetails(ctx context.Context, tmdbID int) (Details, error) {
	return c.getDetails(ctx, "getMovieDetails", tmdbID)
}

// GetShowDetails fetches show details by tmdb id, per §6
// `/api/tmdb?action=getShowDetails&movieId=<id>`.
func (c *Client) GetShowDetails(ctx context.Context, tmdbID int) (Details, error) {
	return c.getDetails(ctx, "getShowDetails", tmdbID)
}

func (c *Client) getDetails(ctx context.Context, action string, tmdbID int) (Details, error) {
	cacheKey := fmt.Sprintf("%s:%d", action, tmdbID)
	if v, ok := c.cache.Get(cacheKey); ok {
		return v.(Details), nil
	}

	body, err := c.fetch(ctx, c.primaryBaseURL, action, tmdbID)
	if err != nil {
		c.log.Warn("primary metadata backend failed, trying fallback", zap.Error(err), zap.String("action", action), zap.Int("tmdbId", tmdbID))
		if c.fallbackBaseURL == "" {
			return Details{}, err
		}
		body, err = c.fetch(ctx, c.fallbackBaseURL, action, tmdbID)
		if err != nil {
			return Details{}, err
		}
	}

	details := Details{
		TmdbID:         tmdbID,
		ImdbID:         gjson.GetBytes(body, "external_ids.imdb_id").String(),
		Title:          firstNonEmpty(gjson.GetBytes(body, "title").String(), gjson.GetBytes(body, "name").String()),
		RuntimeMinutes: int(gjson.GetBytes(body, "runtime").Int()),
	}
	if details.ImdbID == "" {
		details.ImdbID = gjson.GetBytes(body, "imdb_id").String()
	}
	if year := gjson.GetBytes(body, "release_date").String(); len(year) >= 4 {
		fmt.Sscanf(year[:4], "%d", &details.Year)
	} else if year := gjson.GetBytes(body, "first_air_date").String(); len(year) >= 4 {
		fmt.Sscanf(year[:4], "%d", &details.Year)
	}

	c.cache.Put(cacheKey, details)
	return details, nil
}

func (c *Client) fetch(ctx context.Context, baseURL, action string, tmdbID int) ([]byte, error) {
	reqURL := fmt.Sprintf("%s/3/%s/%d?api_key=%s", baseURL, tmdbResourcePath(action), tmdbID, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s details: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := ioutil.ReadAll(resp.Body)
		return nil, fmt.Errorf("catalog API returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return ioutil.ReadAll(resp.Body)
}

func tmdbResourcePath(action string) string {
	if action == "getShowDetails" {
		return "tv"
	}
	return "movie"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
