package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/intake/config"
	"github.com/otherjamesbrown/intake/credentials"
	"github.com/otherjamesbrown/intake/pkg/logging"
)

// OutputFormat selects how command results are printed.
type OutputFormat string

const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
	OutputYAML OutputFormat = "yaml"
)

// Deps holds the dependencies shared by all commands. Tests replace
// individual fields.
type Deps struct {
	// ConfigPath points at the --config flag value.
	ConfigPath *string
	// Output points at the --output flag value.
	Output *string

	Keys       credentials.Store
	LoadConfig func(path string, keys credentials.Store) (*config.Config, error)
	NewApp     func(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error)
	ReadSecret func(prompt string) (string, error)
}

// DefaultDeps returns the production dependencies.
func DefaultDeps(configPath, output *string) *Deps {
	return &Deps{
		ConfigPath: configPath,
		Output:     output,
		Keys:       credentials.NewKeyringStore(),
		LoadConfig: config.Load,
		NewApp:     NewApp,
		ReadSecret: readSecret,
	}
}

func (d *Deps) config() (*config.Config, error) {
	path := ""
	if d.ConfigPath != nil {
		path = *d.ConfigPath
	}
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigFile); err == nil {
			path = config.DefaultConfigFile
		}
	}
	return d.LoadConfig(path, d.Keys)
}

// open loads configuration, installs the global logger and wires the app.
func (d *Deps) open(ctx context.Context) (*App, error) {
	cfg, err := d.config()
	if err != nil {
		return nil, err
	}
	logger := logging.NewLogger(cfg.Logging("intake"))
	logging.SetGlobal(logger)
	return d.NewApp(ctx, cfg, logger)
}

func (d *Deps) format() OutputFormat {
	if d.Output == nil || *d.Output == "" {
		return OutputText
	}
	return OutputFormat(strings.ToLower(*d.Output))
}

// printStructured writes v as JSON or YAML. It reports false for text output
// so the caller can render its own table.
func (d *Deps) printStructured(w io.Writer, v interface{}) (bool, error) {
	switch d.format() {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case OutputYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return true, enc.Encode(v)
	case OutputText:
		return false, nil
	default:
		return true, fmt.Errorf("unknown output format %q (want text, json or yaml)", d.format())
	}
}

func withApp(d *Deps, fn func(cmd *cobra.Command, app *App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := d.open(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()
		return fn(cmd, app, args)
	}
}
