package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/hwci/pkg/fsutil"
	"github.com/ethpandaops/hwci/pkg/pipeline"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. HWCI_GLOBAL_LOG_LEVEL.
	EnvPrefix = "HWCI"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultBuildRoot is where build_<name> directories are created.
	DefaultBuildRoot = "."

	// DefaultResultsDir is the default directory for reports.
	DefaultResultsDir = "./results"

	// DefaultBaudRate is the default serial baud rate.
	DefaultBaudRate = 115200

	// DefaultTestTimeout applies to test actions with a keyword but no timeout.
	DefaultTestTimeout = 5 * time.Second

	// DefaultReportJSON and DefaultReportHTML are written inside the results
	// directory.
	DefaultReportJSON = "report.json"
	DefaultReportHTML = "report.html"

	// DefaultGatewareCommand builds a LiteX target.
	DefaultGatewareCommand = "python3 -m litex_boards.targets.{{.Target}} {{.GatewareArgs}} " +
		"--output-dir={{.OutputDir}} --soc-json={{.SocJSON}} --build"

	// DefaultLoadCommand loads the built bitstream of a LiteX target.
	DefaultLoadCommand = "python3 -m litex_boards.targets.{{.Target}} {{.GatewareArgs}} " +
		"--output-dir={{.OutputDir}} --load"
)

// Config is the root configuration for hwci.
type Config struct {
	Global         GlobalConfig          `yaml:"global" mapstructure:"global"`
	Runner         RunnerConfig          `yaml:"runner" mapstructure:"runner"`
	Defaults       DefaultsConfig        `yaml:"defaults" mapstructure:"defaults"`
	Configurations []ConfigurationConfig `yaml:"configurations" mapstructure:"configurations"`

	path string
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// RunnerConfig contains settings for executing configurations.
type RunnerConfig struct {
	BuildRoot     string `yaml:"build_root" mapstructure:"build_root"`
	ResultsDir    string `yaml:"results_dir" mapstructure:"results_dir"`
	ResultsOwner  string `yaml:"results_owner,omitempty" mapstructure:"results_owner"`
	AlwaysExit    bool   `yaml:"always_exit" mapstructure:"always_exit"`
	ConsolePrefix *bool  `yaml:"console_prefix,omitempty" mapstructure:"console_prefix"`
	// ShellCommands runs gateware and load commands through the shell too.
	ShellCommands bool `yaml:"shell_commands" mapstructure:"shell_commands"`

	Report  ReportConfig  `yaml:"report" mapstructure:"report"`
	Metrics MetricsConfig `yaml:"metrics,omitempty" mapstructure:"metrics"`
	History HistoryConfig `yaml:"history,omitempty" mapstructure:"history"`
	Upload  UploadConfig  `yaml:"upload,omitempty" mapstructure:"upload"`
	API     APIConfig     `yaml:"api,omitempty" mapstructure:"api"`
}

// ReportConfig names the report files written into the results directory.
// The markdown summary is only written when named.
type ReportConfig struct {
	Title    string `yaml:"title,omitempty" mapstructure:"title"`
	JSON     string `yaml:"json" mapstructure:"json"`
	HTML     string `yaml:"html" mapstructure:"html"`
	Markdown string `yaml:"markdown,omitempty" mapstructure:"markdown"`
}

// DefaultsConfig holds values inherited by every configuration.
type DefaultsConfig struct {
	TTY          string        `yaml:"tty,omitempty" mapstructure:"tty"`
	TTYBaudrate  int           `yaml:"tty_baudrate,omitempty" mapstructure:"tty_baudrate"`
	TestDelay    time.Duration `yaml:"test_delay,omitempty" mapstructure:"test_delay"`
	SetupCommand string        `yaml:"setup_command,omitempty" mapstructure:"setup_command"`
	ExitCommand  string        `yaml:"exit_command,omitempty" mapstructure:"exit_command"`
	Tests        []TestConfig  `yaml:"tests,omitempty" mapstructure:"tests"`
}

// TestConfig is one serial test action.
type TestConfig struct {
	Send    string        `yaml:"send,omitempty" mapstructure:"send"`
	Keyword string        `yaml:"keyword,omitempty" mapstructure:"keyword"`
	Timeout time.Duration `yaml:"timeout,omitempty" mapstructure:"timeout"`
	Sleep   time.Duration `yaml:"sleep,omitempty" mapstructure:"sleep"`
}

// ConfigurationConfig defines one board/CPU/software combination. Command
// fields are text/template strings.
type ConfigurationConfig struct {
	Name         string `yaml:"name" mapstructure:"name"`
	Target       string `yaml:"target,omitempty" mapstructure:"target"`
	GatewareArgs string `yaml:"gateware_args,omitempty" mapstructure:"gateware_args"`

	// GatewareCommand and LoadCommand default to the LiteX target invocation
	// when a target is set. An explicit empty string disables the step.
	GatewareCommand *string `yaml:"gateware_command,omitempty" mapstructure:"gateware_command"`
	LoadCommand     *string `yaml:"load_command,omitempty" mapstructure:"load_command"`
	SoftwareCommand string  `yaml:"software_command,omitempty" mapstructure:"software_command"`
	SetupCommand    *string `yaml:"setup_command,omitempty" mapstructure:"setup_command"`
	ExitCommand     *string `yaml:"exit_command,omitempty" mapstructure:"exit_command"`

	TTY         string        `yaml:"tty,omitempty" mapstructure:"tty"`
	TTYBaudrate int           `yaml:"tty_baudrate,omitempty" mapstructure:"tty_baudrate"`
	TestDelay   time.Duration `yaml:"test_delay,omitempty" mapstructure:"test_delay"`
	Tests       []TestConfig  `yaml:"tests,omitempty" mapstructure:"tests"`
}

// Load reads a configuration file, applies HWCI_ environment overrides and
// defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only covers keys viper already knows, so register every
	// scalar key of the schema.
	for _, key := range envKeys(reflect.TypeOf(Config{}), "") {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			durationHook,
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("creating decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.path = path
	cfg.applyDefaults()

	return &cfg, nil
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Runner.BuildRoot == "" {
		c.Runner.BuildRoot = DefaultBuildRoot
	}

	if c.Runner.ResultsDir == "" {
		c.Runner.ResultsDir = DefaultResultsDir
	}

	if c.Runner.ConsolePrefix == nil {
		prefix := true
		c.Runner.ConsolePrefix = &prefix
	}

	if c.Runner.Report.JSON == "" {
		c.Runner.Report.JSON = DefaultReportJSON
	}

	if c.Runner.Report.HTML == "" {
		c.Runner.Report.HTML = DefaultReportHTML
	}

	if c.Defaults.TTYBaudrate == 0 {
		c.Defaults.TTYBaudrate = DefaultBaudRate
	}

	c.Runner.History.applyDefaults()
	c.Runner.API.applyDefaults()
	c.Runner.Upload.applyDefaults()
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Global.LogLevel); err != nil {
		return fmt.Errorf("global.log_level: %w", err)
	}

	if _, err := fsutil.ParseOwner(c.Runner.ResultsOwner); err != nil {
		return fmt.Errorf("runner.results_owner: %w", err)
	}

	if len(c.Configurations) == 0 {
		return fmt.Errorf("at least one configuration must be defined")
	}

	// Sanitized names become directory names, so they must stay unique.
	seen := make(map[string]string, len(c.Configurations))

	for i, cc := range c.Configurations {
		if cc.Name == "" {
			return fmt.Errorf("configuration %d: name is required", i)
		}

		sanitized := pipeline.SanitizeName(cc.Name)
		if other, exists := seen[sanitized]; exists {
			return fmt.Errorf("configuration %q: name collides with %q (both map to %q)", cc.Name, other, sanitized)
		}

		seen[sanitized] = cc.Name

		for j, tc := range c.tests(cc) {
			if tc.Timeout < 0 || tc.Sleep < 0 {
				return fmt.Errorf("configuration %q: test %d: negative duration", cc.Name, j)
			}
		}

		if cc.TTYBaudrate < 0 {
			return fmt.Errorf("configuration %q: invalid tty_baudrate %d", cc.Name, cc.TTYBaudrate)
		}
	}

	if err := c.Runner.History.Validate(); err != nil {
		return fmt.Errorf("runner.history: %w", err)
	}

	if err := c.Runner.Upload.Validate(); err != nil {
		return fmt.Errorf("runner.upload: %w", err)
	}

	if c.Runner.ResultsDir != "" {
		dir := filepath.Dir(filepath.Clean(c.Runner.ResultsDir))
		if dir != "." && dir != ".." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return fmt.Errorf("results directory parent %q does not exist", dir)
			}
		}
	}

	return nil
}

// Names returns the configuration names in file order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Configurations))
	for _, cc := range c.Configurations {
		names = append(names, cc.Name)
	}

	return names
}

func (c *Config) tty(cc ConfigurationConfig) string {
	if cc.TTY != "" {
		return cc.TTY
	}

	return c.Defaults.TTY
}

func (c *Config) baudRate(cc ConfigurationConfig) int {
	if cc.TTYBaudrate > 0 {
		return cc.TTYBaudrate
	}

	return c.Defaults.TTYBaudrate
}

func (c *Config) testDelay(cc ConfigurationConfig) time.Duration {
	if cc.TestDelay > 0 {
		return cc.TestDelay
	}

	return c.Defaults.TestDelay
}

func (c *Config) tests(cc ConfigurationConfig) []TestConfig {
	if len(cc.Tests) > 0 {
		return cc.Tests
	}

	return c.Defaults.Tests
}

var durationType = reflect.TypeOf(time.Duration(0))

// durationHook accepts Go duration strings ("90s", "1m30s") or plain numbers
// of seconds, integer or fractional.
func durationHook(from, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}

	switch v := data.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Duration(0), nil
		}

		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			return secondsToDuration(secs), nil
		}

		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", s, err)
		}

		return d, nil
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return secondsToDuration(v), nil
	}

	return data, nil
}

func secondsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

// envKeys lists the dotted keys of every scalar field reachable through
// structs, skipping slices of structs which cannot be addressed by env.
func envKeys(t reflect.Type, prefix string) []string {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	keys := make([]string, 0, 32)

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}

		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			continue
		}

		key := name
		if prefix != "" {
			key = prefix + "." + name
		}

		ft := f.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}

		switch {
		case ft.Kind() == reflect.Struct:
			keys = append(keys, envKeys(ft, key)...)
		case ft.Kind() == reflect.Slice && ft.Elem().Kind() == reflect.Struct:
			continue
		default:
			keys = append(keys, key)
		}
	}

	return keys
}
