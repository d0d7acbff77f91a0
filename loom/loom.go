// Package loom holds application-wide defaults shared by the loreweave packages.
package loom

import (
	"os"
	"path/filepath"
)

const DefaultAppName = "loreweave"

var (
	DefaultConfigPath  = filepath.Join(userConfigDir(), DefaultAppName)
	DefaultDataDir     = filepath.Join(userDataDir(), DefaultAppName)
	DefaultLibSQLPath  = filepath.Join(DefaultDataDir, "fragments.db")
	DefaultRedisPrefix = DefaultAppName + ":"
)

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return "."
}

func userDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share")
	}
	return "."
}
