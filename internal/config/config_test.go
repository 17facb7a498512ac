package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				assert.Equal(t, "sqlite3", cfg.Database.Driver)
				assert.Equal(t, "/var/lib/queuectl/queue.db", cfg.Database.DSN)
				assert.Equal(t, "json", cfg.Logging.Format)
				assert.Equal(t, 500*time.Millisecond, cfg.Worker.PollInterval.Std())
				assert.Equal(t, time.Hour, cfg.Worker.StuckTimeout.Std())
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, "queuectl", cfg.App.Name)
			}
		})
	}
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		want    time.Duration
		wantErr bool
	}{
		{name: "seconds string", yaml: "timeout: 30s", want: 30 * time.Second},
		{name: "compound string", yaml: "timeout: 1h30m", want: 90 * time.Minute},
		{name: "integer nanoseconds", yaml: "timeout: 1000000000", want: time.Second},
		{name: "garbage string", yaml: "timeout: soon", wantErr: true},
		{name: "wrong type", yaml: "timeout: [1, 2]", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out struct {
				Timeout Duration `yaml:"timeout"`
			}
			err := yaml.Unmarshal([]byte(tt.yaml), &out)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Timeout.Std())
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault("testdata/nonexistent.yaml")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, "queuectl.db", cfg.Database.DSN)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "defaults are valid",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "unknown driver",
			mutate: func(c *Config) {
				c.Database.Driver = "oracle"
			},
			wantErr:   true,
			errString: "unsupported database driver",
		},
		{
			name: "postgres without dsn",
			mutate: func(c *Config) {
				c.Database.Driver = "postgres"
				c.Database.DSN = ""
			},
			wantErr:   true,
			errString: "dsn is required",
		},
		{
			name: "zero poll interval",
			mutate: func(c *Config) {
				c.Worker.PollInterval = 0
			},
			wantErr:   true,
			errString: "poll_interval",
		},
		{
			name: "zero command timeout",
			mutate: func(c *Config) {
				c.Worker.CommandTimeout = 0
			},
			wantErr:   true,
			errString: "command_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateServer(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ValidateServer())

	cfg.Server.Port = 0
	require.Error(t, cfg.ValidateServer())

	cfg.Server.Port = 70000
	require.Error(t, cfg.ValidateServer())
}
