package config

import (
	"bytes"
	"fmt"
	"net"
	"path/filepath"
	"slices"
	"strings"
	"text/template"

	"github.com/ethpandaops/hwci/pkg/pipeline"
	"github.com/ethpandaops/hwci/pkg/procrunner"
	"github.com/ethpandaops/hwci/pkg/serialtest"
)

// TemplateData is the set of placeholders available to command templates and
// to test action send/keyword strings.
type TemplateData struct {
	Name         string
	Target       string
	GatewareArgs string
	BuildRoot    string
	OutputDir    string
	SocJSON      string
	LocalIP      string
}

// localIPFunc is swapped in tests.
var localIPFunc = LocalIP

// LocalIP returns the address of the interface used for outbound traffic.
// Dialing UDP sends no packets.
func LocalIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", fmt.Errorf("detecting local ip: %w", err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected local address %v", conn.LocalAddr())
	}

	return addr.IP.String(), nil
}

// Resolve turns the selected configurations into executable pipeline
// configurations. No names selects every configuration, in file order.
func (c *Config) Resolve(names []string) ([]*pipeline.Configuration, error) {
	selected, err := c.Select(names)
	if err != nil {
		return nil, err
	}

	r := &resolver{cfg: c}

	out := make([]*pipeline.Configuration, 0, len(selected))

	for _, cc := range selected {
		pc, err := r.resolve(cc)
		if err != nil {
			return nil, fmt.Errorf("configuration %q: %w", cc.Name, err)
		}

		out = append(out, pc)
	}

	return out, nil
}

// Select returns the named configurations in file order. Names match either
// the declared or the sanitized form. An unknown name is an error.
func (c *Config) Select(names []string) ([]ConfigurationConfig, error) {
	if len(names) == 0 {
		return slices.Clone(c.Configurations), nil
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = false
	}

	out := make([]ConfigurationConfig, 0, len(names))

	for _, cc := range c.Configurations {
		sanitized := pipeline.SanitizeName(cc.Name)

		_, byName := wanted[cc.Name]
		_, bySanitized := wanted[sanitized]

		if !byName && !bySanitized {
			continue
		}

		if byName {
			wanted[cc.Name] = true
		}

		if bySanitized {
			wanted[sanitized] = true
		}

		out = append(out, cc)
	}

	var unknown []string

	for _, n := range names {
		if !wanted[n] {
			unknown = append(unknown, n)
		}
	}

	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown configuration(s): %s (available: %s)",
			strings.Join(unknown, ", "), strings.Join(c.Names(), ", "))
	}

	return out, nil
}

// OutputDir returns the build directory of the named configuration without
// rendering any command template.
func (c *Config) OutputDir(name string) string {
	return filepath.Join(c.Runner.BuildRoot, "build_"+pipeline.SanitizeName(name))
}

type resolver struct {
	cfg     *Config
	localIP string
}

func (r *resolver) resolve(cc ConfigurationConfig) (*pipeline.Configuration, error) {
	c := r.cfg
	name := pipeline.SanitizeName(cc.Name)
	outputDir := c.OutputDir(cc.Name)

	data := TemplateData{
		Name:         name,
		Target:       cc.Target,
		GatewareArgs: cc.GatewareArgs,
		BuildRoot:    c.Runner.BuildRoot,
		OutputDir:    outputDir,
		SocJSON:      filepath.Join(outputDir, "soc.json"),
	}

	pc := &pipeline.Configuration{
		Target:    cc.Target,
		OutputDir: outputDir,
		Device:    c.tty(cc),
		BaudRate:  c.baudRate(cc),
		TestDelay: c.testDelay(cc),
	}

	var err error

	if pc.Setup, err = r.shellCommand("setup", orDefault(cc.SetupCommand, c.Defaults.SetupCommand), &data); err != nil {
		return nil, err
	}

	if pc.Gateware, err = r.targetCommand("gateware", cc.GatewareCommand, DefaultGatewareCommand, cc.Target, &data); err != nil {
		return nil, err
	}

	if pc.Software, err = r.shellCommand("software", cc.SoftwareCommand, &data); err != nil {
		return nil, err
	}

	if pc.Load, err = r.targetCommand("load", cc.LoadCommand, DefaultLoadCommand, cc.Target, &data); err != nil {
		return nil, err
	}

	if pc.Exit, err = r.shellCommand("exit", orDefault(cc.ExitCommand, c.Defaults.ExitCommand), &data); err != nil {
		return nil, err
	}

	for i, tc := range c.tests(cc) {
		action := serialtest.Action{Timeout: tc.Timeout, Sleep: tc.Sleep}

		if action.Send, err = r.render(fmt.Sprintf("tests[%d].send", i), tc.Send, &data); err != nil {
			return nil, err
		}

		if action.Keyword, err = r.render(fmt.Sprintf("tests[%d].keyword", i), tc.Keyword, &data); err != nil {
			return nil, err
		}

		if action.Keyword != "" && action.Timeout == 0 {
			action.Timeout = DefaultTestTimeout
		}

		pc.Actions = append(pc.Actions, action)
	}

	return pc.Bind(cc.Name), nil
}

func (r *resolver) shellCommand(step, text string, data *TemplateData) (procrunner.Command, error) {
	line, err := r.render(step, text, data)
	if err != nil {
		return procrunner.Command{}, err
	}

	if strings.TrimSpace(line) == "" {
		return procrunner.Command{}, nil
	}

	return procrunner.ShellLine(line), nil
}

// targetCommand resolves a gateware or load command. Without an explicit
// command a target gets the LiteX default.
func (r *resolver) targetCommand(step string, explicit *string, fallback, target string, data *TemplateData) (procrunner.Command, error) {
	text := ""

	switch {
	case explicit != nil:
		text = *explicit
	case target != "":
		text = fallback
	}

	if r.cfg.Runner.ShellCommands {
		return r.shellCommand(step, text, data)
	}

	line, err := r.render(step, text, data)
	if err != nil {
		return procrunner.Command{}, err
	}

	return procrunner.Split(line)
}

func (r *resolver) render(name, text string, data *TemplateData) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	if strings.Contains(text, ".LocalIP") && data.LocalIP == "" {
		if r.localIP == "" {
			ip, err := localIPFunc()
			if err != nil {
				return "", err
			}

			r.localIP = ip
		}

		data.LocalIP = r.localIP
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parsing %s template: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %s template: %w", name, err)
	}

	return buf.String(), nil
}

func orDefault(v *string, fallback string) string {
	if v != nil {
		return *v
	}

	return fallback
}
