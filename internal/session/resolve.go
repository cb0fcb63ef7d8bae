package session

import (
	"os"

	"github.com/moely/inbox/internal/config"
)

const DefaultSessionName = "main"

// NameEnv selects the session when no flag is given.
const NameEnv = "INBOX_SESSION"

// Resolve determines the active session name using precedence:
// 1. flagOverride (--session flag)
// 2. $INBOX_SESSION
// 3. config.toml default_session
// 4. "main"
// The result is validated.
func (l Layout) Resolve(flagOverride string) (string, error) {
	name := flagOverride
	if name == "" {
		name = os.Getenv(NameEnv)
	}
	if name == "" {
		if cfg, err := config.Load(l.ConfigPath()); err == nil {
			name = cfg.DefaultSession
		}
	}
	if name == "" {
		name = DefaultSessionName
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

// Config loads the global config overlaid by the session's session.toml.
func (l Layout) Config(name string) (*config.Config, error) {
	return config.LoadLayered(l.ConfigPath(), l.SessionConfigPath(name))
}
