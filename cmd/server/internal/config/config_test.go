package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Server.Env)
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 5*time.Minute, cfg.Sandbox.MaxRunTime)
	assert.Equal(t, 200*time.Millisecond, cfg.Sandbox.IdleFlush)
	assert.False(t, cfg.Room.LinkAccessOwnerOnly)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9100")
	t.Setenv("ROOM_LINK_ACCESS_OWNER_ONLY", "true")
	t.Setenv("SANDBOX_MAX_RUN_TIME", "30s")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Server.Port)
	assert.True(t, cfg.Room.LinkAccessOwnerOnly)
	assert.Equal(t, 30*time.Second, cfg.Sandbox.MaxRunTime)
}

func TestValidateConfig(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server:   ServerConfig{Env: "dev", Port: "8000"},
			Log:      LogConfig{Level: "info", Format: "console"},
			Security: SecurityConfig{JWTSecret: "0123456789abcdef0123456789abcdef"},
			Sandbox:  SandboxConfig{MaxRunTime: time.Minute, IdleFlush: 200 * time.Millisecond},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing jwt secret",
			mutate:  func(c *Config) { c.Security.JWTSecret = "" },
			wantErr: "USER_JWT_SECRET is required",
		},
		{
			name:    "short jwt secret",
			mutate:  func(c *Config) { c.Security.JWTSecret = "short" },
			wantErr: "at least 32 characters",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = "99999" },
			wantErr: "invalid PORT value",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: "invalid LOG_LEVEL",
		},
		{
			name:    "bad env",
			mutate:  func(c *Config) { c.Server.Env = "qa" },
			wantErr: "invalid ENV",
		},
		{
			name:    "non-positive run time",
			mutate:  func(c *Config) { c.Sandbox.MaxRunTime = 0 },
			wantErr: "SANDBOX_MAX_RUN_TIME must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := ValidateConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadSandboxWhitelist_Defaults(t *testing.T) {
	wl, err := LoadSandboxWhitelist("")
	require.NoError(t, err)

	assert.NotEmpty(t, wl.Command)
	image, ok := wl.Image("python")
	assert.True(t, ok)
	assert.Equal(t, "codedocs-python", image)

	_, ok = wl.Image("cobol")
	assert.False(t, ok)
}

func TestLoadSandboxWhitelist_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "whitelist.yaml")
	content := `
command: ["/bin/cat", "{file}"]
languages:
  - name: python
    image: local-python
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	wl, err := LoadSandboxWhitelist(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/cat", "{file}"}, wl.Command)

	image, ok := wl.Image("python")
	assert.True(t, ok)
	assert.Equal(t, "local-python", image)
}

func TestLoadSandboxWhitelist_Invalid(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no command",
			content: "languages:\n  - name: python\n    image: x\n",
			wantErr: "command cannot be empty",
		},
		{
			name:    "no languages",
			content: "command: [\"docker\"]\n",
			wantErr: "languages array cannot be empty",
		},
		{
			name:    "missing image",
			content: "command: [\"docker\"]\nlanguages:\n  - name: python\n",
			wantErr: "image cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			_, err := LoadSandboxWhitelist(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
