// Package config resolves on-disk paths and loads the configuration
// snapshot, the same two responsibilities the teacher's internal/config
// package played for GetSurgeDir/GetLogsDir and the cobra command tree.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"

	"github.com/aio-downloader/aiocore/internal/model"
)

const (
	dirName    = "aiocore"
	configName = "config"
)

var (
	once    sync.Once
	homeDir string
	homeErr error
)

func resolveHome() (string, error) {
	once.Do(func() {
		dir, err := os.UserHomeDir()
		if err != nil {
			homeErr = fmt.Errorf("resolving home directory: %w", err)
			return
		}
		homeDir = dir
	})
	return homeDir, homeErr
}

// GetAppDir returns the application's internal data directory, the
// analogue of the teacher's GetSurgeDir: model JSONs, cookies, thumbnails,
// extractor temp files, the lock file, and the log file all live here.
func GetAppDir() (string, error) {
	if dir := os.Getenv("AIOCORE_HOME"); dir != "" {
		return dir, nil
	}
	home, err := resolveHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "."+dirName), nil
}

// GetLogsDir returns the directory rotating logs are written under.
func GetLogsDir() (string, error) {
	dir, err := GetAppDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs"), nil
}

// GetPrivateDir returns the "private area" named in the glossary: files
// placed here are deleted by Manager.delete, never left orphaned.
func GetPrivateDir() (string, error) {
	dir, err := GetAppDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "downloads"), nil
}

// EnsureDirs creates every directory this package resolves, mirroring the
// teacher's config.EnsureDirs call from cmd/lock.go's AcquireLock.
func EnsureDirs() error {
	for _, resolve := range []func() (string, error){GetAppDir, GetLogsDir, GetPrivateDir} {
		dir, err := resolve()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// Load reads the configuration snapshot from disk (config.yaml/json/toml in
// the app dir) overlaid with AIOCORE_-prefixed environment variables,
// falling back to model.DefaultSettings for anything unset. A missing
// config file is not an error — viper just yields the defaults.
func Load() (model.Settings, error) {
	settings := model.DefaultSettings()

	appDir, err := GetAppDir()
	if err != nil {
		return settings, err
	}

	v := viper.New()
	v.SetConfigName(configName)
	v.AddConfigPath(appDir)
	v.SetEnvPrefix("AIOCORE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return settings, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := v.Unmarshal(&settings); err != nil {
		return settings, fmt.Errorf("decoding config: %w", err)
	}
	return settings, nil
}
