package session

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// EnvDataDir overrides where local session state is kept.
	EnvDataDir = "NCMB_DATA_DIR"
	dirName    = ".ncmb"
	dbFilename = "session.db"
)

// DataDir returns the directory holding local session state (~/.ncmb unless
// NCMB_DATA_DIR is set), creating it with 0700 permissions.
func DataDir() (string, error) {
	if custom := os.Getenv(EnvDataDir); custom != "" {
		if err := os.MkdirAll(custom, 0o700); err != nil {
			return "", err
		}
		return custom, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user home: %w", err)
	}
	dir := filepath.Join(home, dirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// DBPath returns the SQLite store location inside DataDir.
func DBPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, dbFilename), nil
}
