package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setXDG(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmpDir, "data"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(tmpDir, "cache"))
	t.Setenv("XDG_RUNTIME_DIR", filepath.Join(tmpDir, "run"))
	t.Setenv("HOME", tmpDir)
	return tmpDir
}

// TestConfigAutoCreate verifies first run copies the sample to the XDG path
func TestConfigAutoCreate(t *testing.T) {
	tmpDir := setXDG(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	configPath := filepath.Join(tmpDir, "config", "done", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("config file not created at %s", configPath)
	}
	if string(data) != GetSampleConfig() {
		t.Error("created config should be the embedded sample")
	}

	if cfg.AppID != "done" {
		t.Errorf("AppID = %q, want done", cfg.AppID)
	}
	if cfg.RuntimeDir != filepath.Join(tmpDir, "run", "done") {
		t.Errorf("RuntimeDir = %q", cfg.RuntimeDir)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("sample config should validate: %v", err)
	}
}

func TestDefaultAddresses(t *testing.T) {
	setXDG(t)
	cfg := DefaultConfig()

	want := map[string]string{
		"local":     "127.0.0.1:7007",
		"microsoft": "127.0.0.1:6006",
		"google":    "127.0.0.1:3003",
		"nextcloud": "127.0.0.1:4004",
	}
	for id, addr := range want {
		p, ok := cfg.Provider(id)
		if !ok {
			t.Fatalf("provider %s missing", id)
		}
		if p.Address != addr {
			t.Errorf("%s address = %q, want %q", id, p.Address, addr)
		}
		if p.Executable != DefaultExecutable || len(p.Args) != 1 || p.Args[0] != id {
			t.Errorf("%s process = %s %v", id, p.Executable, p.Args)
		}
	}
	if !strings.HasSuffix(cfg.Providers["local"].DBPath, filepath.Join("done", "tasks.db")) {
		t.Errorf("local db path = %q", cfg.Providers["local"].DBPath)
	}
}

func TestParseKeepsFileValues(t *testing.T) {
	setXDG(t)
	cfg, err := Parse([]byte(`
app_id: done-dev
start_timeout: 3s
providers:
  local:
    address: 127.0.0.1:9000
    db_path: $HOME/tasks.db
  google:
    enabled: false
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.AppID != "done-dev" {
		t.Errorf("AppID = %q", cfg.AppID)
	}
	if cfg.GetStartTimeout() != 3*time.Second {
		t.Errorf("GetStartTimeout = %v", cfg.GetStartTimeout())
	}
	local := cfg.Providers["local"]
	if local.Address != "127.0.0.1:9000" || local.Name != "Local" {
		t.Errorf("local = %+v", local)
	}
	if local.DBPath != filepath.Join(os.Getenv("HOME"), "tasks.db") {
		t.Errorf("db_path not expanded: %q", local.DBPath)
	}

	var ids []string
	for _, ident := range cfg.Identities() {
		ids = append(ids, ident.ID)
	}
	if strings.Join(ids, ",") != "local,microsoft,nextcloud" {
		t.Errorf("Identities = %v, want disabled google skipped", ids)
	}
}

func TestIdentitiesFlagAuthProviders(t *testing.T) {
	setXDG(t)
	for _, ident := range DefaultConfig().Identities() {
		wantAuth := ident.ID == "microsoft" || ident.ID == "google"
		if ident.RequiresAuth != wantAuth {
			t.Errorf("%s RequiresAuth = %v", ident.ID, ident.RequiresAuth)
		}
		if ident.Name == "" || ident.Icon == "" || ident.Description == "" {
			t.Errorf("%s has empty metadata: %+v", ident.ID, ident)
		}
	}
}

func TestOAuth(t *testing.T) {
	setXDG(t)
	cfg := DefaultConfig()

	if _, err := cfg.OAuth(ProviderMicrosoft); err == nil || !strings.Contains(err.Error(), "DONE_MICROSOFT_CLIENT_ID") {
		t.Errorf("OAuth without client id = %v", err)
	}
	if _, err := cfg.OAuth(ProviderLocal); err == nil {
		t.Error("local provider should not have an OAuth client")
	}

	ms := cfg.Providers[ProviderMicrosoft]
	ms.ClientID = "app-123"
	cfg.Providers[ProviderMicrosoft] = ms
	oauthCfg, err := cfg.OAuth(ProviderMicrosoft)
	if err != nil {
		t.Fatalf("OAuth: %v", err)
	}
	if oauthCfg.Provider != ProviderMicrosoft || oauthCfg.ClientID != "app-123" || oauthCfg.AppID != "done" {
		t.Errorf("unexpected OAuth config: %+v", oauthCfg)
	}
	if !strings.Contains(oauthCfg.Endpoint.TokenURL, "/common/") {
		t.Errorf("TokenURL = %q, want the common tenant", oauthCfg.Endpoint.TokenURL)
	}
}

func TestEnvOverrides(t *testing.T) {
	tmpDir := setXDG(t)
	configPath := filepath.Join(tmpDir, "custom", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(configPath, []byte("providers:\n  microsoft:\n    client_id: from-file\n"), 0644); err != nil {
		t.Fatal(err)
	}
	dotenv := "DONE_MICROSOFT_CLIENT_ID=from-dotenv\nDONE_GOOGLE_CLIENT_SECRET=shh\n"
	if err := os.WriteFile(filepath.Join(tmpDir, "custom", ".env"), []byte(dotenv), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DONE_LOCAL_ADDRESS", "127.0.0.1:17007")
	// Variables already in the environment win over .env
	t.Setenv("DONE_GOOGLE_CLIENT_SECRET", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("DONE_MICROSOFT_CLIENT_ID") })

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Providers["microsoft"].ClientID; got != "from-dotenv" {
		t.Errorf("microsoft client_id = %q", got)
	}
	if got := cfg.Providers["google"].ClientSecret; got != "from-env" {
		t.Errorf("google client_secret = %q", got)
	}
	if got := cfg.Providers["local"].Address; got != "127.0.0.1:17007" {
		t.Errorf("local address = %q", got)
	}
}

func TestValidate(t *testing.T) {
	setXDG(t)
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"unknown provider", "providers:\n  todoist: {}\n", `unknown provider: "todoist"`},
		{"malformed address", "providers:\n  local:\n    address: localhost\n", "invalid address for provider local"},
		{"missing host", "providers:\n  local:\n    address: \":7007\"\n", "loopback host"},
		{"bad duration", "start_timeout: soon\n", "start_timeout"},
		{"bad metrics address", "metrics_addr: nope\n", "metrics_addr"},
		{"negative cache ttl", "cache_ttl: -1m\n", "cache_ttl"},
		{"bad nextcloud url", "providers:\n  nextcloud:\n    url: cloud.example.com\n", "nextcloud url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestCacheSettings(t *testing.T) {
	dir := setXDG(t)
	cfg, err := Parse([]byte("cache_ttl: 30s\n"))
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.GetCacheTTL(); got != 30*time.Second {
		t.Errorf("GetCacheTTL() = %v, want 30s", got)
	}
	if want := filepath.Join(dir, "cache", "done"); cfg.CacheDir != want {
		t.Errorf("CacheDir = %q, want %q", cfg.CacheDir, want)
	}

	cfg, _ = Parse([]byte("cache_ttl: \"0\"\n"))
	if got := cfg.GetCacheTTL(); got != 0 {
		t.Errorf("GetCacheTTL() = %v, want 0 (disabled)", got)
	}
	if got := (&Config{}).GetCacheTTL(); got != DefaultCacheTTL {
		t.Errorf("default GetCacheTTL() = %v", got)
	}
}

func TestInvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("providers: [")); err == nil {
		t.Error("Parse should reject malformed YAML")
	}
}

func TestBackgroundLogging(t *testing.T) {
	cfg := &Config{}
	if !cfg.IsBackgroundLoggingEnabled() {
		t.Error("background logging should default to enabled")
	}
	off := false
	cfg.Logging.BackgroundEnabled = &off
	if cfg.IsBackgroundLoggingEnabled() {
		t.Error("background logging should honour background_enabled: false")
	}
	if cfg.GetStartTimeout() != DefaultStartTimeout {
		t.Errorf("GetStartTimeout default = %v", cfg.GetStartTimeout())
	}
}
