package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/getkey/internal/flagx"
	"github.com/joho/godotenv"
)

const envPrefix = "GETKEY_"

// parseEnv loads an optional dotenv file (-env-file, or ./.env when present)
// into the process environment and then overlays GETKEY_* variables.
// Variables already set in the environment win over the file.
func parseEnv(config *Config) {
	loadDotEnv(flagx.EnvFileFlags())

	envString(&config.EndpointAddrHTTP, "HTTP_ADDR")
	envString(&config.EndpointAddrGRPC, "GRPC_ADDR")
	envString(&config.DatabaseDSN, "DATABASE_DSN")
	envString(&config.SecretKey, "SECRET_KEY")
	envString(&config.TokenFormat, "TOKEN_FORMAT")
	envString(&config.PlatformCheckpointURL, "PLATFORM_CHECKPOINT_URL")
	envString(&config.ChallengeVerifyURL, "CHALLENGE_VERIFY_URL")
	envString(&config.ChallengeSecret, "CHALLENGE_SECRET")
	envString(&config.ChallengeSiteKey, "CHALLENGE_SITE_KEY")
	envString(&config.RedisURL, "REDIS_URL")
	envString(&config.LogLevel, "LOG_LEVEL")

	envDuration(&config.SessionTTL, "SESSION_TTL")
	envDuration(&config.CompletedDisplayTTL, "COMPLETED_DISPLAY_TTL")
	envDuration(&config.MaxPublicKeyLifetime, "MAX_PUBLIC_KEY_LIFETIME")
	envDuration(&config.ChallengeTimeout, "CHALLENGE_TIMEOUT")

	if v, ok := os.LookupEnv(envPrefix + "REQUESTS_PER_SECOND"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			config.RequestsPerSecond = f
		}
	}
	if v, ok := os.LookupEnv(envPrefix + "REQUEST_BURST"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.RequestBurst = n
		}
	}
	if v, ok := os.LookupEnv(envPrefix + "TRUSTED_PROXIES"); ok && v != "" {
		config.TrustedProxies = splitList(v)
	}
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// loadDotEnv reads path into the environment. With an empty path it tries
// ./.env and silently skips it when absent; an explicit path must exist.
func loadDotEnv(path string) {
	if path == "" {
		if _, err := os.Stat(".env"); errors.Is(err, fs.ErrNotExist) {
			return
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		panic(err)
	}
}

func envString(dst *string, name string) {
	if v, ok := os.LookupEnv(envPrefix + name); ok && v != "" {
		*dst = v
	}
}

func envDuration(dst *time.Duration, name string) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		*dst = d
	}
}
