package runstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"
)

const (
	stateLockDirName   = ".state.lock"
	stateLockOwnerFile = "owner.json"
)

// StateLock marks a state directory as owned by one process so two
// invocations never drive the same queues at once.
type StateLock struct {
	lockDir string
}

type stateLockOwner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
	Command   string `json:"command,omitempty"`
}

// AcquireStateLock takes the lock directory under stateDir. A lock left by a
// process on this host that no longer exists is reclaimed once.
func AcquireStateLock(stateDir, command string) (StateLock, error) {
	target := strings.TrimSpace(stateDir)
	if target == "" {
		return StateLock{}, fmt.Errorf("state directory is required")
	}
	if err := Mkdir(target); err != nil {
		return StateLock{}, err
	}

	lockDir := filepath.Join(target, stateLockDirName)
	owner := stateLockOwner{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
		Command:   strings.TrimSpace(command),
	}

	for attempt := 0; ; attempt++ {
		err := os.Mkdir(lockDir, 0o755)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return StateLock{}, fmt.Errorf("acquire state lock for %s: %w", target, err)
		}

		var held stateLockOwner
		readErr := ReadJSON(filepath.Join(lockDir, stateLockOwnerFile), &held)
		if readErr != nil || held.PID <= 0 || held.CreatedAt == "" {
			return StateLock{}, fmt.Errorf("state directory is locked: %s", target)
		}
		if attempt == 0 && held.Hostname == owner.Hostname && !processAlive(held.PID) {
			_ = os.Remove(filepath.Join(lockDir, stateLockOwnerFile))
			_ = os.Remove(lockDir)
			continue
		}
		return StateLock{}, fmt.Errorf(
			"state directory is locked: %s (pid=%d command=%s created_at=%s host=%s)",
			target, held.PID, held.Command, held.CreatedAt, held.Hostname,
		)
	}

	if err := WriteJSON(filepath.Join(lockDir, stateLockOwnerFile), owner); err != nil {
		_ = os.Remove(lockDir)
		return StateLock{}, fmt.Errorf("write state lock owner for %s: %w", target, err)
	}
	return StateLock{lockDir: lockDir}, nil
}

func (l StateLock) Release() error {
	if strings.TrimSpace(l.lockDir) == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.lockDir, stateLockOwnerFile))
	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release state lock %s: %w", l.lockDir, err)
	}
	return nil
}

// processAlive probes pid with signal 0. Platforms without that probe
// always report the owner as alive.
func processAlive(pid int) bool {
	if runtime.GOOS == "windows" {
		return true
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
