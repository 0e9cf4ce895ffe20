package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/voyagehub/assetsync/internal/flagx"
	"github.com/voyagehub/assetsync/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Pointer and
// zero-valued fields are left untouched on the target Config, so a file
// only needs to carry what it overrides.
type JsonConfig struct {
	LogLevel       string `json:"log_level"`
	HealthAddrGRPC string `json:"health_addr_grpc"`
	DatabaseDSN    string `json:"database_dsn"`
	LedgerPath     string `json:"ledger_path"`

	S3AccessKey       string          `json:"s3_access_key"`
	S3SecretKey       string          `json:"s3_secret_key"`
	S3CredentialsFile string          `json:"s3_credentials_file"`
	S3Bucket          string          `json:"s3_bucket"`
	S3Region          string          `json:"s3_region"`
	S3BaseEndpoint    string          `json:"s3_base_endpoint"`
	PublicBaseURL     string          `json:"public_base_url"`
	PresignExpiry     *timex.Duration `json:"presign_expiry"`

	HTTPConnectTimeout *timex.Duration `json:"http_connect_timeout"`
	HTTPReadTimeout    *timex.Duration `json:"http_read_timeout"`

	RedisAddr         *string         `json:"redis_addr"`
	RedisPassword     string          `json:"redis_password"`
	RedisDB           *int            `json:"redis_db"`
	RedisProbeTimeout *timex.Duration `json:"redis_probe_timeout"`

	MemoryCacheSize  *int            `json:"memory_cache_size"`
	MemoryCacheSweep *timex.Duration `json:"memory_cache_sweep"`
	FolderCacheTTL   *timex.Duration `json:"folder_cache_ttl"`
	SettingsCacheTTL *timex.Duration `json:"settings_cache_ttl"`

	QueueMaxConcurrent *int            `json:"queue_max_concurrent"`
	QueueAdmitInterval *timex.Duration `json:"queue_admit_interval"`

	SyncInterval     *timex.Duration `json:"sync_interval"`
	SyncGraceWindow  *timex.Duration `json:"sync_grace_window"`
	SyncTargets      []SyncTarget    `json:"sync_targets"`
	ExportKinds      []string        `json:"export_kinds"`
	ExportStorageKey string          `json:"export_storage_key"`
}

// parseJson loads the file named by -c/-config (if any) on top of config.
// A missing or malformed file is a startup error and panics, as flags do.
func parseJson(config *Config, args []string) {
	jsonConfigFile := flagx.ConfigFileFlag(args)

	// nothing to load
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

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.HealthAddrGRPC, c.HealthAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.LedgerPath, c.LedgerPath)

	setString(&config.S3AccessKey, c.S3AccessKey)
	setString(&config.S3SecretKey, c.S3SecretKey)
	setString(&config.S3CredentialsFile, c.S3CredentialsFile)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.PublicBaseURL, c.PublicBaseURL)
	setDuration(&config.PresignExpiry, c.PresignExpiry)

	setDuration(&config.HTTPConnectTimeout, c.HTTPConnectTimeout)
	setDuration(&config.HTTPReadTimeout, c.HTTPReadTimeout)

	// an explicit empty redis_addr disables the distributed tier
	if c.RedisAddr != nil {
		config.RedisAddr = *c.RedisAddr
	}
	setString(&config.RedisPassword, c.RedisPassword)
	if c.RedisDB != nil {
		config.RedisDB = *c.RedisDB
	}
	setDuration(&config.RedisProbeTimeout, c.RedisProbeTimeout)

	if c.MemoryCacheSize != nil {
		config.MemoryCacheSize = *c.MemoryCacheSize
	}
	setDuration(&config.MemoryCacheSweep, c.MemoryCacheSweep)
	setDuration(&config.FolderCacheTTL, c.FolderCacheTTL)
	setDuration(&config.SettingsCacheTTL, c.SettingsCacheTTL)

	if c.QueueMaxConcurrent != nil {
		config.QueueMaxConcurrent = *c.QueueMaxConcurrent
	}
	setDuration(&config.QueueAdmitInterval, c.QueueAdmitInterval)

	setDuration(&config.SyncInterval, c.SyncInterval)
	setDuration(&config.SyncGraceWindow, c.SyncGraceWindow)
	if c.SyncTargets != nil {
		config.SyncTargets = c.SyncTargets
	}
	if c.ExportKinds != nil {
		config.ExportKinds = c.ExportKinds
	}
	setString(&config.ExportStorageKey, c.ExportStorageKey)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
