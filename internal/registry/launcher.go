package registry

import (
	"time"

	"done/internal/daemon"
)

// Launcher spawns and terminates provider processes.
type Launcher interface {
	// Installed reports whether the provider's executable can be found.
	Installed(ident Identity) bool
	// Launch spawns the provider detached, sending its output to logPath,
	// and returns its pid.
	Launch(ident Identity, logPath string) (int, error)
	// Terminate stops pid, waiting up to grace before killing it.
	Terminate(pid int, grace time.Duration) error
}

// ProcessLauncher runs providers as detached OS processes.
type ProcessLauncher struct {
	// Env is appended to the environment of every spawned provider.
	Env []string
}

func (ProcessLauncher) Installed(ident Identity) bool {
	return daemon.Installed(ident.Executable)
}

func (l ProcessLauncher) Launch(ident Identity, logPath string) (int, error) {
	return daemon.Fork(&daemon.Config{
		Executable: ident.Executable,
		Args:       ident.Args,
		LogPath:    logPath,
		Env:        l.Env,
	})
}

func (ProcessLauncher) Terminate(pid int, grace time.Duration) error {
	return daemon.Terminate(pid, grace)
}
