// Package profile lays out the per-profile directory tree under ~/.dmsync.
// A profile is one signed-in account with its own daemon, socket and archive.
package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.dmsync, or $DMSYNC_HOME when set.
func BaseDir() string {
	if dir := os.Getenv("DMSYNC_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".dmsync")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// SocketPath returns the control socket of the profile's daemon.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "daemon.sock")
}

// LockPath returns the lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// ArchivePath returns the local message archive.
func ArchivePath(name string) string {
	return filepath.Join(Dir(name), "archive.db")
}

// SettingsPath returns the profile's backend settings file.
func SettingsPath(name string) string {
	return filepath.Join(Dir(name), "profile.toml")
}

// SessionPath returns the stored credentials of the profile.
func SessionPath(name string) string {
	return filepath.Join(Dir(name), "session.toml")
}

func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "dmsyncd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with owner-only permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
