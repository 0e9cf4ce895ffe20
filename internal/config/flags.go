package config

import (
	"flag"
	"time"

	"github.com/voyagehub/assetsync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   gRPC health bind address (e.g., ":50061")
//	-d string   PostgreSQL DSN
//	-l string   SQLite ledger path
//	-b string   S3 bucket name
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-r string   Redis address; empty disables the distributed cache
//	-q int      maximum concurrent uploads
//	-i int      sync interval, minutes
//	-v string   log level
//
// Args are filtered with flagx.FilterArgs first so -c/-config and flags of
// other components do not collide.
func parseFlags(config *Config, args []string) {
	filtered := flagx.FilterArgs(args, []string{"-a", "-d", "-l", "-b", "-e", "-r", "-q", "-i", "-v"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HealthAddrGRPC, "a", config.HealthAddrGRPC, "address and port of the health endpoint")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.LedgerPath, "l", config.LedgerPath, "sync ledger path")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "redis address")
	fs.IntVar(&config.QueueMaxConcurrent, "q", config.QueueMaxConcurrent, "maximum concurrent uploads")
	syncInterval := fs.Int("i", int(config.SyncInterval.Minutes()), "sync interval (in minutes)")
	fs.StringVar(&config.LogLevel, "v", config.LogLevel, "log level")

	if err := fs.Parse(filtered); err != nil {
		panic(err)
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "i" {
			config.SyncInterval = time.Duration(*syncInterval) * time.Minute
		}
	})
}
