package main

import (
	"flag"
	"os"
	"strconv"
	"strings"
)

// config holds every flag/env-configurable setting for the service, per
// SPEC_FULL.md §A. Fields marked "secret" are read once at startup and
// never logged, per spec §6.
type config struct {
	BindAddr string `json:"bindAddr"`
	Port     int    `json:"port"`

	BaseURLvidsrc  string `json:"baseURLvidsrc"`
	BaseURLembedsu string `json:"baseURLembedsu"`
	DefaultServer  string `json:"defaultServer"`
	AlternateServer string `json:"alternateServer"`
	SocksProxyAddr string `json:"socksProxyAddr"`

	MetadataBaseURL         string `json:"metadataBaseURL"`
	MetadataFallbackBaseURL string `json:"metadataFallbackBaseURL"`
	MetadataAPIKey          string `json:"-"` // secret, never logged

	SubtitleBaseURL string `json:"subtitleBaseURL"`
	SubtitleAPIKey  string `json:"-"` // secret, never logged

	RedisAddr string `json:"redisAddr"`

	// ExternalBaseURL overrides the host used when building stream-proxy
	// URLs returned to clients. Empty means "derive from the incoming
	// request's scheme and Host header", per spec §6.
	ExternalBaseURL string `json:"externalBaseURL"`

	PlayButtonSelectors string `json:"playButtonSelectors"`

	LogLevel  string `json:"logLevel"`
	EnvPrefix string `json:"envPrefix"`
}

func parseConfig() config {
	result := config{}

	var (
		bindAddr = flag.String("bindAddr", "localhost", `Local interface address to bind to. "0.0.0.0" binds to all network interfaces.`)
		port     = flag.Int("port", 8080, "Port to listen on")

		baseURLvidsrc   = flag.String("baseURLvidsrc", "https://vidsrc.xyz", "Base URL for the vidsrc.xyz embed provider")
		baseURLembedsu  = flag.String("baseURLembedsu", "https://embed.su", "Base URL for the embed.su alternate embed provider")
		defaultServer   = flag.String("defaultServer", "vidsrc.xyz", "Name of the default (primary) server")
		alternateServer = flag.String("alternateServer", "embed.su", "Name of the alternate server used on the final retry of a retryable failure")
		socksProxyAddr  = flag.String("socksProxyAddr", "", "Optional SOCKS5 proxy address for the extraction engine's outbound requests")

		metadataBaseURL         = flag.String("metadataBaseURL", "https://api.themoviedb.org", "Base URL for the primary metadata catalog API")
		metadataFallbackBaseURL = flag.String("metadataFallbackBaseURL", "", "Base URL for an optional metadata catalog mirror, tried on primary error")
		metadataAPIKey          = flag.String("metadataAPIKey", "", "API key for the metadata catalog (secret, not logged)")

		subtitleBaseURL = flag.String("subtitleBaseURL", "", "Base URL for the subtitle catalog API")
		subtitleAPIKey  = flag.String("subtitleAPIKey", "", "API key for the subtitle catalog (secret, not logged)")

		redisAddr = flag.String("redisAddr", "", "Optional Redis address for the CacheLayer's distributed mirror tier")

		externalBaseURL = flag.String("externalBaseURL", "", "Base URL override used when building stream-proxy URLs returned to clients. Empty derives it from the incoming request")

		playButtonSelectors = flag.String("playButtonSelectors", "#pl_but,.fa-play,[data-testid=play-button],.play-btn,button.vjs-big-play-button", "Comma-separated, ordered fallback list of CSS selectors tried to locate the play button (spec §9: extending this is a config change, not a code change)")

		logLevel  = flag.String("logLevel", "info", `Log level: "debug", "info", "warn", or "error"`)
		envPrefix = flag.String("envPrefix", "", "Prefix for environment variables")
	)

	flag.Parse()

	if *envPrefix != "" && !strings.HasSuffix(*envPrefix, "_") {
		*envPrefix += "_"
	}
	result.EnvPrefix = *envPrefix

	overrideString(bindAddr, *envPrefix+"BIND_ADDR", "bindAddr")
	result.BindAddr = *bindAddr

	overrideInt(port, *envPrefix+"PORT", "port")
	result.Port = *port

	overrideString(baseURLvidsrc, *envPrefix+"BASE_URL_VIDSRC", "baseURLvidsrc")
	result.BaseURLvidsrc = *baseURLvidsrc

	overrideString(baseURLembedsu, *envPrefix+"BASE_URL_EMBEDSU", "baseURLembedsu")
	result.BaseURLembedsu = *baseURLembedsu

	overrideString(defaultServer, *envPrefix+"DEFAULT_SERVER", "defaultServer")
	result.DefaultServer = *defaultServer

	overrideString(alternateServer, *envPrefix+"ALTERNATE_SERVER", "alternateServer")
	result.AlternateServer = *alternateServer

	overrideString(socksProxyAddr, *envPrefix+"SOCKS_PROXY_ADDR", "socksProxyAddr")
	result.SocksProxyAddr = *socksProxyAddr

	overrideString(metadataBaseURL, *envPrefix+"METADATA_BASE_URL", "metadataBaseURL")
	result.MetadataBaseURL = *metadataBaseURL

	overrideString(metadataFallbackBaseURL, *envPrefix+"METADATA_FALLBACK_BASE_URL", "metadataFallbackBaseURL")
	result.MetadataFallbackBaseURL = *metadataFallbackBaseURL

	overrideString(metadataAPIKey, *envPrefix+"METADATA_API_KEY", "metadataAPIKey")
	result.MetadataAPIKey = *metadataAPIKey

	overrideString(subtitleBaseURL, *envPrefix+"SUBTITLE_BASE_URL", "subtitleBaseURL")
	result.SubtitleBaseURL = *subtitleBaseURL

	overrideString(subtitleAPIKey, *envPrefix+"SUBTITLE_API_KEY", "subtitleAPIKey")
	result.SubtitleAPIKey = *subtitleAPIKey

	overrideString(redisAddr, *envPrefix+"REDIS_ADDR", "redisAddr")
	result.RedisAddr = *redisAddr

	overrideString(externalBaseURL, *envPrefix+"EXTERNAL_BASE_URL", "externalBaseURL")
	result.ExternalBaseURL = *externalBaseURL

	overrideString(playButtonSelectors, *envPrefix+"PLAY_BUTTON_SELECTORS", "playButtonSelectors")
	result.PlayButtonSelectors = *playButtonSelectors

	overrideString(logLevel, *envPrefix+"LOG_LEVEL", "logLevel")
	result.LogLevel = *logLevel

	return result
}

// overrideString fills *dst from the named environment variable, unless the
// corresponding flag was set explicitly on the command line.
func overrideString(dst *string, envVar, flagName string) {
	if isArgSet(flagName) {
		return
	}
	if val, ok := os.LookupEnv(envVar); ok {
		*dst = val
	}
}

func overrideInt(dst *int, envVar, flagName string) {
	if isArgSet(flagName) {
		return
	}
	if val, ok := os.LookupEnv(envVar); ok {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

// isArgSet returns true if the named flag was actually set as a command
// line argument. Pass without the "-" prefix.
func isArgSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// selectors splits the comma-separated PlayButtonSelectors config value.
func (c config) selectors() []string {
	parts := strings.Split(c.PlayButtonSelectors, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validate checks startup preconditions, per spec §6's "1: configuration
// error (missing key)" exit code.
func (c config) validate() error {
	if c.MetadataAPIKey == "" {
		return errMissingKey("metadataAPIKey")
	}
	return nil
}

type errMissingKey string

func (e errMissingKey) Error() string {
	return "missing required configuration key: " + string(e)
}
