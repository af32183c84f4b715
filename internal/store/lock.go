// Package store keeps the on-disk guard that stops two adapter processes from
// trading the same account and pair at once.
package store

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// InstanceLock is held for the life of the process. Two processes sharing
// one nonce stream would reject each other's requests.
type InstanceLock struct {
	path  string
	owner string
	file  *os.File
}

type LockOptions struct {
	TakeoverEnabled bool
	StaleAfter      time.Duration
	Now             func() time.Time
}

type lockMeta struct {
	pid       int
	owner     string
	startedAt time.Time
}

// InstanceName is the file stem shared by the lock and state files of one
// exchange, pair and instance.
func InstanceName(exchange, pair, instance string) string {
	parts := []string{exchange, pair, instance}
	for i, p := range parts {
		parts[i] = sanitize(p)
	}
	return strings.Join(parts, "-")
}

func LockName(exchange, pair, instance string) string {
	return InstanceName(exchange, pair, instance) + ".lock"
}

func AcquireInstanceLock(root, name string, opts LockOptions) (*InstanceLock, error) {
	if root == "" {
		return nil, fmt.Errorf("state dir required")
	}
	if name == "" {
		return nil, fmt.Errorf("lock name required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	path := filepath.Join(root, name)
	owner := uuid.NewString()

	for attempts := 0; attempts < 3; attempts++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			meta := lockMeta{pid: os.Getpid(), owner: owner, startedAt: now().UTC()}
			if err := writeLockFile(f, meta); err != nil {
				_ = f.Close()
				_ = os.Remove(path)
				return nil, err
			}
			return &InstanceLock{path: path, owner: owner, file: f}, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		if !opts.TakeoverEnabled {
			return nil, fmt.Errorf("instance lock exists: %s", path)
		}
		stale, reason, err := canTakeover(path, now().UTC(), opts.StaleAfter)
		if err != nil {
			return nil, fmt.Errorf("instance lock exists: %s (stale check failed: %v)", path, err)
		}
		if !stale {
			return nil, fmt.Errorf("instance lock exists: %s (%s)", path, reason)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("instance lock exists: %s", path)
}

func (l *InstanceLock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Release removes the lock file only while it still names this owner.
func (l *InstanceLock) Release() error {
	if l == nil {
		return nil
	}
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
	if l.path == "" {
		return nil
	}
	path := l.path
	l.path = ""
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	meta, err := parseLockMeta(data)
	if err != nil {
		return err
	}
	if meta.owner != "" && meta.owner != l.owner {
		return fmt.Errorf("instance lock %s taken over by %s", path, meta.owner)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func writeLockFile(f *os.File, meta lockMeta) error {
	payload := "pid=" + strconv.Itoa(meta.pid) +
		"\nowner=" + meta.owner +
		"\nstarted_at=" + meta.startedAt.Format(time.RFC3339) + "\n"
	if _, err := f.WriteString(payload); err != nil {
		return err
	}
	return f.Sync()
}

func canTakeover(path string, now time.Time, staleAfter time.Duration) (bool, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, "lock_disappeared", nil
		}
		return false, "", err
	}
	meta, err := parseLockMeta(data)
	if err != nil {
		return false, "", err
	}
	if meta.pid > 0 {
		if processAlive(meta.pid) {
			return false, "owner_process_running", nil
		}
		return true, "owner_process_not_running", nil
	}
	if meta.startedAt.IsZero() {
		return false, "missing_lock_owner_info", nil
	}
	if staleAfter > 0 && now.Sub(meta.startedAt) >= staleAfter {
		return true, "lock_age_exceeded", nil
	}
	return false, "lock_not_stale", nil
}

func parseLockMeta(data []byte) (lockMeta, error) {
	var meta lockMeta
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				meta.pid = pid
			}
		case "owner":
			meta.owner = value
		case "started_at":
			if ts, err := time.Parse(time.RFC3339, value); err == nil {
				meta.startedAt = ts.UTC()
			}
		}
	}
	return meta, scanner.Err()
}

// processAlive treats a permission error as alive: the pid exists but
// belongs to someone else.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
		return false
	}
	return errors.Is(err, syscall.EPERM)
}

func sanitize(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	var b strings.Builder
	for _, r := range v {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
