package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/invopop/jsonschema"

	"ratesim/internal/config"
	"ratesim/internal/policy"
)

// SchemaCmd prints the JSON Schema of the configuration file to stdout.
type SchemaCmd struct {
	Compact bool `help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run() error {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		FieldNameTag:              "json",
	}
	schema := reflector.Reflect(&config.Config{})
	schema.Title = "ratesim configuration"
	schema.Description = "Limits, detection policies and optional sinks of the rate limit simulator. Durations are nanoseconds in JSON and Go duration strings in YAML and TOML."

	enc := json.NewEncoder(os.Stdout)
	if !c.Compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(schema)
}

type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return errors.New("validate needs --config")
	}
	if err := config.LoadDotEnv(cli.Config); err != nil {
		return err
	}
	cfg, err := config.Load(config.ResolvePath(cli.Config))
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	names := make([]string, 0, 5)
	for _, p := range policy.FromConfig(cfg.Policies, nil) {
		names = append(names, p.Name())
	}
	fmt.Printf("config ok: %d requests per %s, policies: %s\n", cfg.Limiter.MaxRequests, cfg.Limiter.Window, strings.Join(names, ", "))
	return nil
}
