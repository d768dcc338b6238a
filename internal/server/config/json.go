package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/getkey/internal/flagx"
	"github.com/dmitrijs2005/getkey/internal/timex"
)

// JsonConfig is the on-disk shape of the JSON config file. Durations accept
// both "30m" style strings and integer nanoseconds.
type JsonConfig struct {
	EndpointAddrHTTP      string         `json:"endpoint_addr_http"`
	EndpointAddrGRPC      string         `json:"endpoint_addr_grpc"`
	DatabaseDSN           string         `json:"database_dsn"`
	SecretKey             string         `json:"secret_key"`
	TokenFormat           string         `json:"token_format"`
	SessionTTL            timex.Duration `json:"session_ttl"`
	CompletedDisplayTTL   timex.Duration `json:"completed_display_ttl"`
	MaxPublicKeyLifetime  timex.Duration `json:"max_public_key_lifetime"`
	PlatformCheckpointURL string         `json:"platform_checkpoint_url"`
	ChallengeVerifyURL    string         `json:"challenge_verify_url"`
	ChallengeSecret       string         `json:"challenge_secret"`
	ChallengeSiteKey      string         `json:"challenge_site_key"`
	ChallengeTimeout      timex.Duration `json:"challenge_timeout"`
	RedisURL              string         `json:"redis_url"`
	RequestsPerSecond     float64        `json:"requests_per_second"`
	RequestBurst          int            `json:"request_burst"`
	TrustedProxies        []string       `json:"trusted_proxies"`
	LogLevel              string         `json:"log_level"`
}

// parseJson overlays values from the JSON file named by -c/-config onto
// config. Keys missing from the file keep their current value. An unreadable
// or malformed file panics, as the server cannot start with it.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.TokenFormat, c.TokenFormat)
	setString(&config.PlatformCheckpointURL, c.PlatformCheckpointURL)
	setString(&config.ChallengeVerifyURL, c.ChallengeVerifyURL)
	setString(&config.ChallengeSecret, c.ChallengeSecret)
	setString(&config.ChallengeSiteKey, c.ChallengeSiteKey)
	setString(&config.RedisURL, c.RedisURL)
	setString(&config.LogLevel, c.LogLevel)

	if c.SessionTTL.Duration > 0 {
		config.SessionTTL = c.SessionTTL.Duration
	}
	if c.CompletedDisplayTTL.Duration > 0 {
		config.CompletedDisplayTTL = c.CompletedDisplayTTL.Duration
	}
	if c.MaxPublicKeyLifetime.Duration > 0 {
		config.MaxPublicKeyLifetime = c.MaxPublicKeyLifetime.Duration
	}
	if c.ChallengeTimeout.Duration > 0 {
		config.ChallengeTimeout = c.ChallengeTimeout.Duration
	}
	if c.RequestsPerSecond > 0 {
		config.RequestsPerSecond = c.RequestsPerSecond
	}
	if c.RequestBurst > 0 {
		config.RequestBurst = c.RequestBurst
	}
	if len(c.TrustedProxies) > 0 {
		config.TrustedProxies = c.TrustedProxies
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
