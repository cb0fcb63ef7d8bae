package session

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the base directory when set.
const HomeEnv = "INBOX_HOME"

// Layout locates every file the daemon and CLI share under one base directory.
type Layout struct {
	Base string
}

// DefaultLayout returns the layout rooted at $INBOX_HOME, or ~/.inbox.
func DefaultLayout() Layout {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return Layout{Base: dir}
	}
	home, _ := os.UserHomeDir()
	return Layout{Base: filepath.Join(home, ".inbox")}
}

// ConfigPath returns the global config file path.
func (l Layout) ConfigPath() string {
	return filepath.Join(l.Base, "config.toml")
}

// Dir returns the session-specific directory.
func (l Layout) Dir(name string) string {
	return filepath.Join(l.Base, "sessions", name)
}

// SessionConfigPath returns the per-session overlay config.
func (l Layout) SessionConfigPath(name string) string {
	return filepath.Join(l.Dir(name), "session.toml")
}

// SocketPath returns the UDS socket path for a session.
func (l Layout) SocketPath(name string) string {
	return filepath.Join(l.Dir(name), "daemon.sock")
}

// DBPath returns the session's own sqlite database.
func (l Layout) DBPath(name string) string {
	return filepath.Join(l.Dir(name), "inbox.db")
}

func (l Layout) LogDir(name string) string {
	return filepath.Join(l.Dir(name), "logs")
}

// EnsureDir creates the session directory tree with proper permissions.
func (l Layout) EnsureDir(name string) error {
	for _, d := range []string{l.Dir(name), l.LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
