package store

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

const testLockName = "kraken-xxbtzusd-default.lock"

func TestLockName(t *testing.T) {
	if got := LockName("Kraken", "XBT/USD", "default"); got != "kraken-xbt_usd-default.lock" {
		t.Fatalf("LockName() = %q", got)
	}
}

func TestAcquireInstanceLockExclusive(t *testing.T) {
	root := filepath.Join(t.TempDir(), "state")
	lock, err := AcquireInstanceLock(root, testLockName, LockOptions{})
	if err != nil {
		t.Fatalf("AcquireInstanceLock() error = %v", err)
	}
	defer lock.Release()

	_, err = AcquireInstanceLock(root, testLockName, LockOptions{})
	if err == nil || !strings.Contains(err.Error(), "instance lock exists") {
		t.Fatalf("second AcquireInstanceLock() error = %v, want lock exists", err)
	}

	other, err := AcquireInstanceLock(root, "bitstamp-btcusd-default.lock", LockOptions{})
	if err != nil {
		t.Fatalf("AcquireInstanceLock(other pair) error = %v", err)
	}
	_ = other.Release()
}

func TestReleaseRemovesOwnLock(t *testing.T) {
	root := t.TempDir()
	lock, err := AcquireInstanceLock(root, testLockName, LockOptions{})
	if err != nil {
		t.Fatalf("AcquireInstanceLock() error = %v", err)
	}
	path := lock.Path()
	if err := lock.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("lock file still present, stat err = %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}
}

func TestReleaseKeepsForeignLock(t *testing.T) {
	root := t.TempDir()
	lock, err := AcquireInstanceLock(root, testLockName, LockOptions{})
	if err != nil {
		t.Fatalf("AcquireInstanceLock() error = %v", err)
	}
	path := lock.Path()
	if err := os.WriteFile(path, []byte("owner=someone-else\n"), 0o644); err != nil {
		t.Fatalf("rewrite lock failed: %v", err)
	}
	if err := lock.Release(); err == nil {
		t.Fatalf("Release() error = nil, want taken over error")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("foreign lock removed: %v", err)
	}
}

func TestAcquireInstanceLockTakeoverDeadPID(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, testLockName)
	if err := os.WriteFile(path, []byte("pid=999999\nstarted_at="+time.Now().UTC().Format(time.RFC3339)+"\n"), 0o644); err != nil {
		t.Fatalf("write stale lock failed: %v", err)
	}

	lock, err := AcquireInstanceLock(root, testLockName, LockOptions{
		TakeoverEnabled: true,
		StaleAfter:      10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("AcquireInstanceLock() error = %v, want nil", err)
	}
	defer lock.Release()
}

func TestAcquireInstanceLockDoesNotTakeoverRunningPID(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, testLockName)
	payload := "pid=" + strconv.Itoa(os.Getpid()) + "\nstarted_at=" + time.Now().UTC().Add(-time.Hour).Format(time.RFC3339) + "\n"
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write active lock failed: %v", err)
	}

	_, err := AcquireInstanceLock(root, testLockName, LockOptions{
		TakeoverEnabled: true,
		StaleAfter:      time.Second,
	})
	if err == nil || !strings.Contains(err.Error(), "owner_process_running") {
		t.Fatalf("AcquireInstanceLock() error = %v, want owner_process_running", err)
	}
}

func TestAcquireInstanceLockTakeoverByAgeWithoutPID(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, testLockName)
	started := time.Now().UTC().Add(-2 * time.Minute)
	if err := os.WriteFile(path, []byte("started_at="+started.Format(time.RFC3339)+"\n"), 0o644); err != nil {
		t.Fatalf("write stale lock failed: %v", err)
	}

	lock, err := AcquireInstanceLock(root, testLockName, LockOptions{
		TakeoverEnabled: true,
		StaleAfter:      time.Minute,
		Now:             func() time.Time { return started.Add(2 * time.Minute) },
	})
	if err != nil {
		t.Fatalf("AcquireInstanceLock() error = %v, want nil", err)
	}
	defer lock.Release()
}

func TestAcquireInstanceLockKeepsRecentUnknownLock(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, testLockName)
	started := time.Now().UTC()
	if err := os.WriteFile(path, []byte("started_at="+started.Format(time.RFC3339)+"\n"), 0o644); err != nil {
		t.Fatalf("write lock failed: %v", err)
	}

	_, err := AcquireInstanceLock(root, testLockName, LockOptions{
		TakeoverEnabled: true,
		StaleAfter:      10 * time.Minute,
		Now:             func() time.Time { return started.Add(30 * time.Second) },
	})
	if err == nil || !strings.Contains(err.Error(), "lock_not_stale") {
		t.Fatalf("AcquireInstanceLock() error = %v, want lock_not_stale", err)
	}
}
