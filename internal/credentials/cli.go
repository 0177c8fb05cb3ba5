package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// CLIHandler handles CLI commands for credential management
type CLIHandler struct {
	manager *Manager
	stdin   io.Reader
	stdout  io.Writer
}

// NewCLIHandler creates a new CLI handler for credential commands
func NewCLIHandler(manager *Manager, stdin io.Reader, stdout io.Writer) *CLIHandler {
	return &CLIHandler{
		manager: manager,
		stdin:   stdin,
		stdout:  stdout,
	}
}

// Set prompts for a password and stores it.
func (h *CLIHandler) Set(ctx context.Context, provider, username string) error {
	password, err := PromptPassword(h.stdin, h.stdout, provider, username)
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if password == "" {
		return fmt.Errorf("password must not be empty")
	}

	if err := h.manager.Set(ctx, provider, username, password); err != nil {
		if errors.Is(err, ErrKeyringNotAvailable) {
			return h.keyringNotAvailableError(provider)
		}
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	_, _ = fmt.Fprintf(h.stdout, "Credentials stored for %s/%s\n", normalizeProvider(provider), username)
	return nil
}

// keyringNotAvailableError explains how to pass credentials without a keyring.
func (h *CLIHandler) keyringNotAvailableError(provider string) error {
	prefix := strings.ToUpper(h.manager.AppID()) + "_" + strings.ToUpper(provider)

	msg := fmt.Sprintf(`System keyring not available.

Alternative: use environment variables instead:
  export %s_USERNAME="your-user"
  export %s_PASSWORD="your-password"
`, prefix, prefix)

	return errors.New(msg)
}

// Get retrieves and displays credential information
func (h *CLIHandler) Get(ctx context.Context, provider, username string, jsonOutput bool) error {
	info, err := h.manager.Get(ctx, provider, username)
	if err != nil {
		return fmt.Errorf("failed to get credentials: %w", err)
	}

	if jsonOutput {
		jsonBytes, err := info.JSON()
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(h.stdout, string(jsonBytes))
		return nil
	}

	if !info.Found {
		_, _ = fmt.Fprintf(h.stdout, "No credentials found for %s/%s\n", info.Provider, info.Username)
		_, _ = fmt.Fprintf(h.stdout, "\nSuggestion: Run 'done credentials set %s %s'\n", info.Provider, info.Username)
		return nil
	}

	_, _ = fmt.Fprintf(h.stdout, "Source: %s\n", info.Source)
	_, _ = fmt.Fprintf(h.stdout, "Username: %s\n", info.Username)
	_, _ = fmt.Fprintf(h.stdout, "Password: ******** (hidden)\n")
	_, _ = fmt.Fprintf(h.stdout, "Provider: %s\n", info.Provider)
	return nil
}

// Delete removes credentials from the keyring
func (h *CLIHandler) Delete(ctx context.Context, provider, username string) error {
	if err := h.manager.Delete(ctx, provider, username); err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}

	_, _ = fmt.Fprintf(h.stdout, "Credentials removed for %s/%s\n", normalizeProvider(provider), username)
	return nil
}

// List displays the credential status of each account
func (h *CLIHandler) List(ctx context.Context, accounts []Account, jsonOutput bool) error {
	statuses, err := h.manager.List(ctx, accounts)
	if err != nil {
		return fmt.Errorf("failed to list credentials: %w", err)
	}

	if jsonOutput {
		type statusJSON struct {
			Provider       string `json:"provider"`
			Username       string `json:"username"`
			HasCredentials bool   `json:"has_credentials"`
			Source         string `json:"source,omitempty"`
		}
		output := make([]statusJSON, 0, len(statuses))
		for _, s := range statuses {
			entry := statusJSON{Provider: s.Provider, Username: s.Username, HasCredentials: s.HasCredentials}
			if s.HasCredentials {
				entry.Source = string(s.Source)
			}
			output = append(output, entry)
		}
		jsonBytes, err := json.Marshal(output)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(h.stdout, string(jsonBytes))
		return nil
	}

	_, _ = fmt.Fprintf(h.stdout, "%-12s %-20s %-15s %s\n", "PROVIDER", "USERNAME", "STATUS", "SOURCE")
	for _, s := range statuses {
		status := "Not configured"
		source := "-"
		if s.HasCredentials {
			status = "Available"
			source = string(s.Source)
		}
		_, _ = fmt.Fprintf(h.stdout, "%-12s %-20s %-15s %s\n", s.Provider, s.Username, status, source)
	}
	return nil
}
