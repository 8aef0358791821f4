//go:build unix

package lockfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openPair(t *testing.T) (*os.File, *os.File) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.jsonl")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	a, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func TestExclusiveExcludesOtherHandles(t *testing.T) {
	a, b := openPair(t)
	if err := FlockExclusiveNonBlock(a); err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if err := FlockExclusiveNonBlock(b); !errors.Is(err, ErrLockBusy) {
		t.Fatalf("second exclusive lock = %v, want ErrLockBusy", err)
	}
	if err := FlockSharedNonBlock(b); !errors.Is(err, ErrLockBusy) {
		t.Fatalf("shared lock under exclusive = %v, want ErrLockBusy", err)
	}
	if err := FlockUnlock(a); err != nil {
		t.Fatal(err)
	}
	if err := FlockExclusiveNonBlock(b); err != nil {
		t.Fatalf("lock after unlock: %v", err)
	}
}

func TestSharedLocksCoexist(t *testing.T) {
	a, b := openPair(t)
	if err := FlockSharedNonBlock(a); err != nil {
		t.Fatal(err)
	}
	if err := FlockSharedNonBlock(b); err != nil {
		t.Fatalf("second shared lock: %v", err)
	}
}

func TestAcquireTimesOut(t *testing.T) {
	a, b := openPair(t)
	if err := FlockExclusiveBlocking(a); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	err := Acquire(context.Background(), b, Exclusive, 60*time.Millisecond)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("Acquire = %v, want ErrLockTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Acquire returned after %v, before the timeout", elapsed)
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	a, b := openPair(t)
	if err := FlockExclusiveBlocking(a); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	if err := Acquire(ctx, b, Shared, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire = %v, want context.DeadlineExceeded", err)
	}
}

func TestAcquireWaitsForRelease(t *testing.T) {
	a, b := openPair(t)
	if err := FlockExclusiveBlocking(a); err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = FlockUnlock(a)
	}()
	if err := Acquire(context.Background(), b, Exclusive, 2*time.Second); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
}
