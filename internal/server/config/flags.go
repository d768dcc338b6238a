package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/getkey/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-g string   gRPC health bind address (e.g., ":50051")
//	-d string   PostgreSQL DSN
//	-s string   root secret key
//	-f string   token format: envelope | jwt
//	-t int      pending session lifetime, minutes
//	-k int      max public key lifetime, hours
//	-l string   platform checkpoint link
//	-r string   Redis URL for issuance events
//	-x string   challenge verifier secret
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with the -c and -env-file flags.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-g", "-d", "-s", "-f", "-t", "-k", "-l", "-r", "-x"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run the HTTP API")
	fs.StringVar(&config.EndpointAddrGRPC, "g", config.EndpointAddrGRPC, "address and port to run the gRPC health endpoint")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.TokenFormat, "f", config.TokenFormat, "session token format (envelope|jwt)")

	sessionTTL := fs.Int("t", int(config.SessionTTL.Minutes()), "pending session lifetime (in minutes)")
	maxKeyLifetime := fs.Int("k", int(config.MaxPublicKeyLifetime.Hours()), "max public key lifetime (in hours)")

	fs.StringVar(&config.PlatformCheckpointURL, "l", config.PlatformCheckpointURL, "platform checkpoint link")
	fs.StringVar(&config.RedisURL, "r", config.RedisURL, "Redis URL for issuance events")
	fs.StringVar(&config.ChallengeSecret, "x", config.ChallengeSecret, "challenge verifier secret")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.SessionTTL = time.Duration(*sessionTTL) * time.Minute
	config.MaxPublicKeyLifetime = time.Duration(*maxKeyLifetime) * time.Hour
}
