package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrAlreadyRunning is returned when another heavy job holds the advisory
// lock. The caller must exit without side effects.
var ErrAlreadyRunning = errors.New("another heavy job is already running")

// Lock is an advisory lock file guarding the shared inference engine across
// processes. One lock file is shared by every heavy job on the host (digest
// runs, the research-task runner, the career scanner).
type Lock struct {
	path string
}

// Acquire takes the advisory lock, failing with ErrAlreadyRunning if a live
// process holds it. A lock left behind by a dead pid is broken.
func Acquire(path string) (*Lock, error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("creating lock file: %w", err)
		}

		pid, readErr := readLockPid(path)
		if readErr == nil && pidAlive(pid) {
			return nil, fmt.Errorf("%w (pid %d, lock %s)", ErrAlreadyRunning, pid, path)
		}

		// Stale lock from a dead process; break it and retry once.
		log.Printf("engine: breaking stale lock %s (pid %d not running)", path, pid)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing stale lock: %w", err)
		}
	}
	return nil, fmt.Errorf("%w (lock %s contended)", ErrAlreadyRunning, path)
}

// Release removes the lock file. Safe to call on a nil lock.
func (l *Lock) Release() {
	if l == nil {
		return
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		log.Printf("engine: removing lock %s: %v", l.path, err)
	}
}

func readLockPid(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(raw)))
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes existence without delivering anything.
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// EnsureResident makes the configured model the only heavy model resident
// on the engine: any other resident model is explicitly evicted (zero
// residency directive), then ours is preloaded. Idempotent: calling it
// when the model is already resident only refreshes its keep-alive.
func EnsureResident(ctx context.Context, client *OllamaClient, model string) error {
	resident, err := client.Resident(ctx)
	if err != nil {
		return fmt.Errorf("listing resident models: %w", err)
	}

	for _, m := range resident {
		if m.Name == model {
			continue
		}
		log.Printf("engine: evicting resident model %s", m.Name)
		if err := client.Evict(ctx, m.Name); err != nil {
			// Eviction failure is not fatal; the load below may still
			// succeed if memory allows.
			log.Printf("engine: evict %s failed: %v", m.Name, err)
			continue
		}
		// Let GPU memory settle before the next load.
		time.Sleep(2 * time.Second)
	}

	log.Printf("engine: preloading %s", model)
	if err := client.Preload(ctx, model); err != nil {
		return fmt.Errorf("preloading %s: %w", model, err)
	}
	return nil
}
