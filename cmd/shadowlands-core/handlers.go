package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/doingodswork/shadowlands-core/pkg/cachelayer"
	"github.com/doingodswork/shadowlands-core/pkg/controller"
	"github.com/doingodswork/shadowlands-core/pkg/metadata"
	"github.com/doingodswork/shadowlands-core/pkg/model"
	"github.com/doingodswork/shadowlands-core/pkg/streamproxy"
	"github.com/doingodswork/shadowlands-core/pkg/subtitles"
)

// defaultSubtitleLanguages is used when a request to /api/subtitles omits
// languageId, per spec §4.5's "resolves subtitles for a requested set of
// languages" (an empty set defaults to the common ones).
var defaultSubtitleLanguages = []string{"eng", "spa", "fre", "deu"}

// Handlers wires the ExtractionController, StreamProxy, MetadataClient, and
// SubtitleResolver to the HTTP surface spec §6 names.
type Handlers struct {
	controller *controller.Controller
	proxy      *streamproxy.Proxy
	metadata   *metadata.Client
	subtitles  *subtitles.Resolver
	cache      *cachelayer.Layer
	cfg        config
	log        *zap.Logger
}

type extractResponse struct {
	Success          bool              `json:"success"`
	StreamURL        string            `json:"streamUrl"`
	StreamType       string            `json:"streamType"`
	Server           string            `json:"server"`
	ExtractionMethod string            `json:"extractionMethod"`
	RequiresProxy    bool              `json:"requiresProxy"`
	Chain            map[string]string `json:"chain"`
	Error            *string           `json:"error"`
}

// handleExtract implements GET /api/extract-shadowlands, per spec §6.
func (h *Handlers) handleExtract(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	tmdbID, err := strconv.Atoi(q.Get("tmdbId"))
	if err != nil {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "tmdbId must be an integer"})
		return
	}
	season, err := parseOptionalInt(q.Get("season"))
	if err != nil {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "season must be an integer"})
		return
	}
	episode, err := parseOptionalInt(q.Get("episode"))
	if err != nil {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "episode must be an integer"})
		return
	}

	ref := model.CatalogRef{TmdbID: tmdbID, Season: season, Episode: episode}
	if verr := ref.Validate(); verr != nil {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": verr.Error()})
		return
	}

	opts := controller.ClientOptions{PreferredServer: q.Get("server")}
	result, err := h.controller.Extract(r.Context(), ref, opts)
	if err != nil {
		msg := errorMessage(err)
		writeJSONStatus(w, http.StatusOK, extractResponse{Success: false, Error: &msg})
		return
	}

	streamURL := result.ManifestURL
	if result.RequiresProxy {
		streamURL = streamproxy.BuildProxyURL(h.rewriteBase(r), result.ManifestURL, result.ProxySource)
	}

	writeJSONStatus(w, http.StatusOK, extractResponse{
		Success:          true,
		StreamURL:        streamURL,
		StreamType:       string(result.StreamType),
		Server:           result.Server,
		ExtractionMethod: result.ExtractionMethod,
		RequiresProxy:    result.RequiresProxy,
		Chain:            result.Chain,
		Error:            nil,
	})
}

// handleStreamProxy implements GET /api/stream-proxy, per spec §4.3/§6.
func (h *Handlers) handleStreamProxy(w http.ResponseWriter, r *http.Request) {
	h.proxy.ServeHTTP(w, r)
}

type subtitleEntry struct {
	ID           string `json:"id"`
	Language     string `json:"language"`
	LangCode     string `json:"langcode"`
	DownloadLink string `json:"downloadLink"`
}

type subtitlesResponse struct {
	Success   bool            `json:"success"`
	Subtitles []subtitleEntry `json:"subtitles"`
}

// handleSubtitlesList implements GET /api/subtitles, per spec §6.
func (h *Handlers) handleSubtitlesList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	imdbID := q.Get("imdbId")
	if imdbID == "" {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "imdbId is required"})
		return
	}
	season, err := parseOptionalInt(q.Get("season"))
	if err != nil {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "season must be an integer"})
		return
	}
	episode, err := parseOptionalInt(q.Get("episode"))
	if err != nil {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "episode must be an integer"})
		return
	}

	languages := defaultSubtitleLanguages
	if lang := q.Get("languageId"); lang != "" {
		languages = []string{lang}
	}

	descriptors, err := h.subtitles.Resolve(r.Context(), imdbID, season, episode, languages)
	if err != nil {
		h.log.Warn("subtitle resolve had partial failures", zap.Error(err), zap.String("imdbId", imdbID))
	}

	entries := make([]subtitleEntry, 0, len(descriptors))
	for _, d := range descriptors {
		entries = append(entries, subtitleEntry{
			ID:           d.ContentID,
			Language:     d.LanguageName,
			LangCode:     d.LanguageCode,
			DownloadLink: d.DownloadLink,
		})
	}

	writeJSONStatus(w, http.StatusOK, subtitlesResponse{Success: true, Subtitles: entries})
}

type subtitleDownloadRequest struct {
	DownloadLink string `json:"download_link"`
}

type subtitleDownloadResponse struct {
	VTT string `json:"vtt"`
}

// handleSubtitlesDownload implements POST /api/subtitles/download, per
// spec §6.
func (h *Handlers) handleSubtitlesDownload(w http.ResponseWriter, r *http.Request) {
	var req subtitleDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DownloadLink == "" {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "download_link is required"})
		return
	}

	vtt, contentID, err := h.subtitles.Download(r.Context(), req.DownloadLink)
	if err != nil {
		writeJSONStatus(w, http.StatusOK, map[string]interface{}{"vtt": "", "error": errorMessage(err)})
		return
	}
	h.cache.PutSubtitle(contentID, model.SubtitleBlob{Body: vtt, GeneratedAt: time.Now()})

	writeJSONStatus(w, http.StatusOK, subtitleDownloadResponse{VTT: string(vtt)})
}

type tmdbResponse struct {
	Success bool             `json:"success"`
	Details *metadata.Details `json:"details,omitempty"`
	Error   *string          `json:"error,omitempty"`
}

// handleTMDB implements GET /api/tmdb, per spec §6.
func (h *Handlers) handleTMDB(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	action := q.Get("action")
	movieID, err := strconv.Atoi(q.Get("movieId"))
	if err != nil {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "movieId must be an integer"})
		return
	}

	var details metadata.Details
	switch action {
	case "getMovieDetails":
		details, err = h.metadata.GetMovieDetails(r.Context(), movieID)
	case "getShowDetails":
		details, err = h.metadata.GetShowDetails(r.Context(), movieID)
	default:
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "action must be getMovieDetails or getShowDetails"})
		return
	}
	if err != nil {
		msg := err.Error()
		writeJSONStatus(w, http.StatusOK, tmdbResponse{Success: false, Error: &msg})
		return
	}

	writeJSONStatus(w, http.StatusOK, tmdbResponse{Success: true, Details: &details})
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONStatus(w, http.StatusOK, map[string]string{"status": "ok"})
}

// rewriteBase derives the "/api/stream-proxy" prefix, honoring the
// ExternalBaseURL override or falling back to the incoming request's own
// scheme and Host, per spec §6's "base URL override ... defaults to the
// host".
func (h *Handlers) rewriteBase(r *http.Request) string {
	if h.cfg.ExternalBaseURL != "" {
		return h.cfg.ExternalBaseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func errorMessage(err error) string {
	if ee, ok := err.(*model.ExtractionError); ok {
		return ee.Kind.Message()
	}
	return err.Error()
}

func parseOptionalInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func writeJSONStatus(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
