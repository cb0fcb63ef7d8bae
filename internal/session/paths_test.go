package session

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultLayoutHonoursEnv(t *testing.T) {
	t.Setenv(HomeEnv, "/tmp/inbox-home")
	if got := DefaultLayout().Base; got != "/tmp/inbox-home" {
		t.Errorf("Base = %q, want /tmp/inbox-home", got)
	}

	t.Setenv(HomeEnv, "")
	home, _ := os.UserHomeDir()
	if got := DefaultLayout().Base; got != filepath.Join(home, ".inbox") {
		t.Errorf("Base = %q, want ~/.inbox", got)
	}
}

func TestLayoutPaths(t *testing.T) {
	l := Layout{Base: "/base"}
	tests := []struct {
		got, want string
	}{
		{l.ConfigPath(), "/base/config.toml"},
		{l.Dir("main"), "/base/sessions/main"},
		{l.SessionConfigPath("main"), "/base/sessions/main/session.toml"},
		{l.SocketPath("test"), "/base/sessions/test/daemon.sock"},
		{l.DBPath("test"), "/base/sessions/test/inbox.db"},
		{l.LogDir("test"), "/base/sessions/test/logs"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestEnsureDir(t *testing.T) {
	l := Layout{Base: t.TempDir()}
	if err := l.EnsureDir("test"); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(l.LogDir("test"))
	if err != nil {
		t.Fatalf("log dir not created: %v", err)
	}
	if !info.IsDir() || info.Mode().Perm() != 0700 {
		t.Errorf("log dir mode = %v, want drwx------", info.Mode())
	}
}
