// Package config loads process configuration from environment
// variables, parsed once at startup with documented defaults and
// validation.
package config

import (
	"fmt"
	"os"
	"strconv"

	"storagemesh/errs"
)

// Env variable names read at startup.
const (
	EnvFolderPath          = "MESH_FOLDER_PATH"
	EnvPublicIP            = "PUBLIC_IP"
	EnvTrustedFullnode     = "TRUSTED_FULLNODE"
	EnvTrustedFullnodePort = "TRUSTED_FULLNODE_PORT"
	EnvDiskSpaceLimitBytes = "DISK_SPACE_LIMIT_BYTES"
	EnvMercenaryMode       = "MERCENARY_MODE"
	EnvDebug               = "MESH_DEBUG"
	EnvRemoteNode          = "REMOTE_NODE"
	EnvUsername            = "MESH_USERNAME"
	EnvPassword            = "MESH_PASSWORD"
)

// Defaults applied when the corresponding env var is absent or fails
// to parse.
const (
	DefaultFolderPath          = "./storagemesh-data"
	DefaultTrustedFullnodePort = 8444
	DefaultDiskSpaceLimitBytes = int64(500 << 30) // 500 GiB
)

// Config is the fully-resolved process configuration.
type Config struct {
	FolderPath          string
	PublicIP            string
	TrustedFullnode     string
	TrustedFullnodePort int
	DiskSpaceLimitBytes int64
	MercenaryMode       bool
	Debug               bool
	RemoteNode          bool
	Username            string
	Password            string
}

// Load reads and validates configuration from the process
// environment. Invalid values for optional fields fall back to
// documented defaults rather than failing startup; only structurally
// required combinations error.
func Load() (Config, error) {
	c := Config{
		FolderPath:          getOr(EnvFolderPath, DefaultFolderPath),
		PublicIP:            os.Getenv(EnvPublicIP),
		TrustedFullnode:     os.Getenv(EnvTrustedFullnode),
		TrustedFullnodePort: getIntOr(EnvTrustedFullnodePort, DefaultTrustedFullnodePort),
		DiskSpaceLimitBytes: getInt64Or(EnvDiskSpaceLimitBytes, DefaultDiskSpaceLimitBytes),
		MercenaryMode:       getBoolOr(EnvMercenaryMode, false),
		Debug:               getBoolOr(EnvDebug, false),
		RemoteNode:          getBoolOr(EnvRemoteNode, false),
		Username:            os.Getenv(EnvUsername),
		Password:            os.Getenv(EnvPassword),
	}

	if c.RemoteNode && c.TrustedFullnode == "" {
		return Config{}, errs.Wrap(errs.Validation, fmt.Errorf("%s=true requires %s to be set", EnvRemoteNode, EnvTrustedFullnode))
	}
	if c.DiskSpaceLimitBytes <= 0 {
		c.DiskSpaceLimitBytes = DefaultDiskSpaceLimitBytes
	}
	return c, nil
}

func getOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getInt64Or(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getBoolOr(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
