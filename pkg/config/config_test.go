package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethpandaops/hwci/pkg/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
global:
  log_level: info
runner:
  build_root: /tmp/hwci
  results_dir: ./original-results
  always_exit: false
defaults:
  tty: /dev/ttyUSB1
  tests:
    - send: "reboot\n"
      keyword: "Memtest OK"
      timeout: 5s
configurations:
  - name: arty:vexriscv
    target: digilent_arty
    gateware_args: "--cpu-type=vexriscv --with-ethernet"
    software_command: "cd linux && ./make.py --soc-json={{.SocJSON}}"
    setup_command: "ykushcmd -d a && ykushcmd -u 2"
    exit_command: "ykushcmd -d a"
    test_delay: 2
    tests:
      - send: "reboot\n"
        sleep: 1.5
      - keyword: "login:"
        timeout: 60
  - name: acorn
    target: sqrl_acorn
    tty: /dev/ttyUSB2
    tty_baudrate: 1000000
    load_command: ""
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	configPath := writeConfig(t, sampleConfig)

	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name:    "no env vars uses yaml values",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "info", cfg.Global.LogLevel)
				assert.Equal(t, "./original-results", cfg.Runner.ResultsDir)
				assert.False(t, cfg.Runner.AlwaysExit)
			},
		},
		{
			name:    "string override - log_level",
			envVars: map[string]string{"HWCI_GLOBAL_LOG_LEVEL": "debug"},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Global.LogLevel)
			},
		},
		{
			name:    "boolean override - always_exit",
			envVars: map[string]string{"HWCI_RUNNER_ALWAYS_EXIT": "true"},
			validate: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Runner.AlwaysExit)
			},
		},
		{
			name:    "key absent from file - history.enabled",
			envVars: map[string]string{"HWCI_RUNNER_HISTORY_ENABLED": "true"},
			validate: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Runner.History.Enabled)
				assert.Equal(t, DefaultHistoryDriver, cfg.Runner.History.Driver)
			},
		},
		{
			name:    "nested field override - defaults.tty",
			envVars: map[string]string{"HWCI_DEFAULTS_TTY": "/dev/ttyACM0"},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/dev/ttyACM0", cfg.Defaults.TTY)
			},
		},
		{
			name:    "duration override - defaults.test_delay",
			envVars: map[string]string{"HWCI_DEFAULTS_TEST_DELAY": "3s"},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 3*time.Second, cfg.Defaults.TestDelay)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load(configPath)
			require.NoError(t, err)

			tt.validate(t, cfg)
		})
	}
}

func TestLoad_DefaultsAppliedWhenEmpty(t *testing.T) {
	cfg, err := Load(writeConfig(t, "configurations:\n  - name: arty\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.Global.LogLevel)
	assert.Equal(t, DefaultResultsDir, cfg.Runner.ResultsDir)
	assert.Equal(t, DefaultBuildRoot, cfg.Runner.BuildRoot)
	assert.Equal(t, DefaultReportJSON, cfg.Runner.Report.JSON)
	assert.Equal(t, DefaultReportHTML, cfg.Runner.Report.HTML)
	assert.Equal(t, DefaultBaudRate, cfg.Defaults.TTYBaudrate)
	assert.Equal(t, DefaultAPIListen, cfg.Runner.API.Listen)
	require.NotNil(t, cfg.Runner.ConsolePrefix)
	assert.True(t, *cfg.Runner.ConsolePrefix)
}

func TestLoad_Durations(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	arty := cfg.Configurations[0]
	assert.Equal(t, 2*time.Second, arty.TestDelay)
	require.Len(t, arty.Tests, 2)
	assert.Equal(t, "reboot\n", arty.Tests[0].Send)
	assert.Equal(t, 1500*time.Millisecond, arty.Tests[0].Sleep)
	assert.Equal(t, time.Minute, arty.Tests[1].Timeout)
	assert.Equal(t, 5*time.Second, cfg.Defaults.Tests[0].Timeout)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: yaml: content:"))
	require.Error(t, err)
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeConfig(t, "defaults:\n  test_delay: soon\nconfigurations:\n  - name: a\n"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "no configurations",
			mutate:  func(c *Config) { c.Configurations = nil },
			wantErr: "at least one configuration",
		},
		{
			name:    "missing name",
			mutate:  func(c *Config) { c.Configurations[0].Name = "" },
			wantErr: "name is required",
		},
		{
			name: "sanitized name collision",
			mutate: func(c *Config) {
				c.Configurations = append(c.Configurations, ConfigurationConfig{Name: "arty/vexriscv"})
			},
			wantErr: "collides",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Global.LogLevel = "loud" },
			wantErr: "log_level",
		},
		{
			name:    "bad owner",
			mutate:  func(c *Config) { c.Runner.ResultsOwner = "root" },
			wantErr: "results_owner",
		},
		{
			name: "history unknown driver",
			mutate: func(c *Config) {
				c.Runner.History.Enabled = true
				c.Runner.History.Driver = "mysql"
			},
			wantErr: "unsupported driver",
		},
		{
			name: "upload without bucket",
			mutate: func(c *Config) {
				c.Runner.Upload.S3 = &S3UploadConfig{Enabled: true}
			},
			wantErr: "bucket",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, sampleConfig))
			require.NoError(t, err)

			cfg.Runner.ResultsDir = t.TempDir()
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResolve(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	configs, err := cfg.Resolve(nil)
	require.NoError(t, err)
	require.Len(t, configs, 2)

	arty := configs[0]
	assert.Equal(t, "arty_vexriscv", arty.Name())
	assert.Equal(t, "/tmp/hwci/build_arty_vexriscv", arty.OutputDir)
	assert.Equal(t, "/dev/ttyUSB1", arty.Device)
	assert.Equal(t, DefaultBaudRate, arty.BaudRate)
	assert.Equal(t, 2*time.Second, arty.TestDelay)

	assert.Equal(t, []string{
		"python3", "-m", "litex_boards.targets.digilent_arty",
		"--cpu-type=vexriscv", "--with-ethernet",
		"--output-dir=/tmp/hwci/build_arty_vexriscv",
		"--soc-json=/tmp/hwci/build_arty_vexriscv/soc.json",
		"--build",
	}, arty.Gateware.Args)
	assert.Equal(t, "--load", arty.Load.Args[len(arty.Load.Args)-1])

	assert.True(t, arty.Software.Shell)
	assert.Equal(t, "cd linux && ./make.py --soc-json=/tmp/hwci/build_arty_vexriscv/soc.json", arty.Software.Line)
	assert.Equal(t, "ykushcmd -d a && ykushcmd -u 2", arty.Setup.Line)

	require.Len(t, arty.Actions, 2)
	assert.Empty(t, arty.Actions[0].Keyword)
	assert.Equal(t, 1500*time.Millisecond, arty.Actions[0].Sleep)
	assert.Equal(t, "login:", arty.Actions[1].Keyword)

	acorn := configs[1]
	assert.Equal(t, "/dev/ttyUSB2", acorn.Device)
	assert.Equal(t, 1000000, acorn.BaudRate)
	assert.True(t, acorn.Load.IsZero(), "explicit empty load_command disables load")
	assert.False(t, acorn.Configured(pipeline.StepLoad))
	assert.True(t, acorn.Software.IsZero())

	// Inherited default tests get the default keyword timeout.
	require.Len(t, acorn.Actions, 1)
	assert.Equal(t, "Memtest OK", acorn.Actions[0].Keyword)
	assert.Equal(t, 5*time.Second, acorn.Actions[0].Timeout)
}

func TestResolveSelection(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	configs, err := cfg.Resolve([]string{"arty_vexriscv"})
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "arty_vexriscv", configs[0].Name())

	configs, err = cfg.Resolve([]string{"acorn", "arty:vexriscv"})
	require.NoError(t, err)
	assert.Len(t, configs, 2)

	_, err = cfg.Resolve([]string{"nexys"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nexys")
	assert.Contains(t, err.Error(), "available: arty:vexriscv, acorn")
}

func TestOutputDirSkipsTemplates(t *testing.T) {
	orig := localIPFunc
	localIPFunc = func() (string, error) {
		t.Fatal("output directory lookup must not resolve the local IP")

		return "", nil
	}

	t.Cleanup(func() { localIPFunc = orig })

	cfg, err := Load(writeConfig(t, sampleConfig+`
  - name: nuttx
    tests:
      - send: "ping {{.LocalIP}}\n"
        keyword: "0% packet loss"
`))
	require.NoError(t, err)

	selected, err := cfg.Select([]string{"nuttx", "arty:vexriscv"})
	require.NoError(t, err)
	require.Len(t, selected, 2)

	assert.Equal(t, "/tmp/hwci/build_arty_vexriscv", cfg.OutputDir(selected[0].Name))
	assert.Equal(t, "/tmp/hwci/build_nuttx", cfg.OutputDir(selected[1].Name))
}

func TestResolveLocalIP(t *testing.T) {
	orig := localIPFunc
	localIPFunc = func() (string, error) { return "192.168.1.50", nil }

	t.Cleanup(func() { localIPFunc = orig })

	cfg, err := Load(writeConfig(t, `
configurations:
  - name: nuttx
    tty: /dev/ttyUSB0
    tests:
      - send: "ping {{.LocalIP}}\n"
        keyword: "0% packet loss"
`))
	require.NoError(t, err)

	configs, err := cfg.Resolve(nil)
	require.NoError(t, err)
	assert.Equal(t, "ping 192.168.1.50\n", configs[0].Actions[0].Send)
}

func TestResolveUnknownPlaceholder(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
configurations:
  - name: broken
    software_command: "make {{.Board}}"
`))
	require.NoError(t, err)

	_, err = cfg.Resolve(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestWriteSnapshotRedactsSecrets(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	cfg.Runner.Upload.S3 = &S3UploadConfig{Enabled: true, Bucket: "ci", SecretAccessKey: "hunter2"}

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, cfg.WriteSnapshot(path, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")
	assert.Contains(t, string(data), redacted)
	assert.Equal(t, "hunter2", cfg.Runner.Upload.S3.SecretAccessKey, "original must be untouched")

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Names(), reloaded.Names())
}
