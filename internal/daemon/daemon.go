// Package daemon spawns, detects and stops detached provider processes.
// Processes are tracked through pid files, never by scanning process names.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrLocked is returned by Lock when another live process holds the lock.
var ErrLocked = errors.New("lock held by another process")

// Config describes a process to spawn.
type Config struct {
	Executable string   // Name or path of the executable
	Args       []string // Arguments passed to the executable
	LogPath    string   // Optional: file receiving stdout and stderr
	Env        []string // Extra environment entries appended to os.Environ()
}

// Fork starts the executable detached from the calling terminal and returns its pid.
func Fork(cfg *Config) (int, error) {
	executable, err := exec.LookPath(cfg.Executable)
	if err != nil {
		return 0, fmt.Errorf("failed to locate %s: %w", cfg.Executable, err)
	}

	// Create the command
	cmd := exec.Command(executable, cfg.Args...)

	// Detach from terminal
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if cfg.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0700); err != nil {
			return 0, fmt.Errorf("failed to create log directory: %w", err)
		}
		logFile, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return 0, fmt.Errorf("failed to open log file: %w", err)
		}
		// The child keeps its own descriptor after Start.
		defer func() { _ = logFile.Close() }()
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session
	}

	// Set environment
	cmd.Env = append(os.Environ(), cfg.Env...)

	// Start the process
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", cfg.Executable, err)
	}
	pid := cmd.Process.Pid

	// Reap the child when it exits so it never lingers as a zombie of a
	// long-lived parent.
	go func() { _ = cmd.Wait() }()

	return pid, nil
}

// Installed reports whether the executable can be found.
func Installed(executable string) bool {
	_, err := exec.LookPath(executable)
	return err == nil
}

// WritePID records pid at path, creating the directory if needed.
func WritePID(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0600); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// ReadPID returns the pid stored at path.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed PID file %s: %w", path, err)
	}
	return pid, nil
}

// Alive reports whether a process with pid exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds, so we need to send signal 0
	// to check if process exists
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Terminate sends SIGTERM and waits up to grace for the process to exit,
// then sends SIGKILL. Terminating a process that is already gone is not an error.
func Terminate(pid int, grace time.Duration) error {
	if !Alive(pid) {
		return nil
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("failed to signal process %d: %w", pid, err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !Alive(pid) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	if err := process.Signal(syscall.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill process %d: %w", pid, err)
	}
	return nil
}

// Lock creates path exclusively and records the caller's pid in it. A lock
// left behind by a dead process is taken over. The returned function releases it.
func Lock(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
			_ = f.Close()
			return func() { _ = os.Remove(path) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}
		holder, readErr := ReadPID(path)
		if readErr == nil && Alive(holder) {
			return nil, fmt.Errorf("%w: %s (pid %d)", ErrLocked, path, holder)
		}
		// Stale lock from a crashed starter
		_ = os.Remove(path)
	}
	return nil, fmt.Errorf("%w: %s", ErrLocked, path)
}

// RuntimeDir returns the default directory for pid, lock and log files.
func RuntimeDir(app string) string {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir != "" {
		return filepath.Join(runtimeDir, app)
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("%s-%d", app, os.Getuid()))
}
