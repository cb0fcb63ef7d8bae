package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// FileName is the lock file inside a session directory.
const FileName = "LOCK"

// HeldError is returned when another daemon already serves the session.
type HeldError struct {
	Info Info
	Path string
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("session already served by inboxd pid %d since %s (%s)",
		e.Info.PID, e.Info.Started.Format(time.RFC3339), e.Path)
}

// Info is what a running daemon records in its lock file.
type Info struct {
	PID     int
	Started time.Time
	// Email is the identity the daemon signed in as.
	Email string
}

// Lock is an acquired session lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the exclusive lock on sessionDir and records info with the
// current pid. It fails with *HeldError while another process holds it.
func Acquire(sessionDir, email string) (*Lock, error) {
	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	path := filepath.Join(sessionDir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		info, _ := Inspect(sessionDir)
		return nil, &HeldError{Info: info, Path: path}
	}

	info := Info{PID: os.Getpid(), Started: time.Now().UTC(), Email: email}
	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.WriteAt([]byte(info.encode()), 0); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Lock{file: f, path: path}, nil
}

// Inspect reads the lock file of sessionDir without taking the lock.
// fs.ErrNotExist means no daemon has recorded itself.
func Inspect(sessionDir string) (Info, error) {
	data, err := os.ReadFile(filepath.Join(sessionDir, FileName))
	if err != nil {
		return Info{}, err
	}
	info := decode(string(data))
	if info.PID == 0 {
		return Info{}, fs.ErrNotExist
	}
	return info, nil
}

// Release drops the lock. Safe on a nil or released lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Removing before close keeps Inspect from reporting a dead pid.
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_ = l.file.Close()
		l.file = nil
		return err
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (i Info) encode() string {
	return fmt.Sprintf("pid=%d\nstarted=%s\nemail=%s\n", i.PID, i.Started.Format(time.RFC3339), i.Email)
}

func decode(content string) Info {
	var info Info
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			info.PID, _ = strconv.Atoi(value)
		case "started":
			info.Started, _ = time.Parse(time.RFC3339, value)
		case "email":
			info.Email = value
		}
	}
	return info
}
