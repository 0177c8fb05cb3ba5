// Package notification shows desktop notifications through the platform's
// command line notifier.
package notification

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Notification is one message shown to the user.
type Notification struct {
	Title   string
	Message string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// CommandExecutor is the interface for executing system commands
type CommandExecutor interface {
	Execute(ctx context.Context, cmd string, args ...string) error
}

// execCommand runs real system commands.
type execCommand struct{}

func (execCommand) Execute(ctx context.Context, cmd string, args ...string) error {
	return exec.CommandContext(ctx, cmd, args...).Run()
}

// Desktop sends notifications via notify-send, osascript or PowerShell.
type Desktop struct {
	executor CommandExecutor
	platform string
}

// Option configures a Desktop notifier.
type Option func(*Desktop)

// WithCommandExecutor sets a custom command executor
func WithCommandExecutor(executor CommandExecutor) Option {
	return func(d *Desktop) { d.executor = executor }
}

// WithPlatform overrides runtime.GOOS.
func WithPlatform(platform string) Option {
	return func(d *Desktop) { d.platform = platform }
}

// NewDesktop creates a notifier for the running platform.
func NewDesktop(opts ...Option) *Desktop {
	d := &Desktop{executor: execCommand{}, platform: runtime.GOOS}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify shows n.
func (d *Desktop) Notify(ctx context.Context, n Notification) error {
	switch d.platform {
	case "linux", "freebsd", "openbsd", "netbsd":
		return d.executor.Execute(ctx, "notify-send", "--app-name=done", n.Title, n.Message)
	case "darwin":
		script := fmt.Sprintf(`display notification "%s" with title "%s"`, escapeAppleScript(n.Message), escapeAppleScript(n.Title))
		return d.executor.Execute(ctx, "osascript", "-e", script)
	case "windows":
		script := fmt.Sprintf(`
Add-Type -AssemblyName System.Windows.Forms
$notification = New-Object System.Windows.Forms.NotifyIcon
$notification.Icon = [System.Drawing.SystemIcons]::Information
$notification.BalloonTipTitle = "%s"
$notification.BalloonTipText = "%s"
$notification.Visible = $true
$notification.ShowBalloonTip(5000)
`, escapePowerShell(n.Title), escapePowerShell(n.Message))
		return d.executor.Execute(ctx, "powershell", "-Command", script)
	default:
		return fmt.Errorf("desktop notifications are not supported on %s", d.platform)
	}
}

// escapeAppleScript escapes a string for safe use in AppleScript double-quoted strings.
func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// escapePowerShell escapes a string for safe use in PowerShell double-quoted strings.
func escapePowerShell(s string) string {
	// In PowerShell, backtick is the escape character
	s = strings.ReplaceAll(s, "`", "``")
	s = strings.ReplaceAll(s, `"`, "`\"")
	s = strings.ReplaceAll(s, "$", "`$")
	return s
}
