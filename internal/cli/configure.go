package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/KevinKickass/OpenSimModule/internal/amm"
	"github.com/KevinKickass/OpenSimModule/internal/capabilities"
)

type ConfigureOptions struct {
	ModuleID  string
	File      string
	Payload   string
	Schema    string
	Name      string
	Encounter string
}

func NewConfigureCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConfigureOptions{}

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Publish a module configuration",
		Long: "Publish a ModuleConfiguration addressed to --module. The capabilities " +
			"configuration is read from --file, or a complete configuration from --payload " +
			"(YAML or JSON). The receiving module halts and applies it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfiguration(opts)
			if err != nil {
				return err
			}

			if err := rootOpts.publishOnce(cmd.Context(), cfg); err != nil {
				return err
			}

			return rootOpts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr()).Success(configureResult(cfg))
		},
	}

	cmd.Flags().StringVarP(&opts.ModuleID, "module", "m", "", "target module id")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "capabilities configuration document")
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "complete ModuleConfiguration as YAML or JSON")
	cmd.Flags().StringVar(&opts.Schema, "schema", "", "JSON capabilities schema to validate --file against")
	cmd.Flags().StringVar(&opts.Name, "name", "", "module name carried in the configuration")
	cmd.Flags().StringVar(&opts.Encounter, "encounter", "", "educational encounter id")
	cmd.MarkFlagsMutuallyExclusive("file", "payload")
	cmd.MarkFlagsOneRequired("file", "payload")

	return cmd
}

func buildConfiguration(opts *ConfigureOptions) (amm.ModuleConfiguration, error) {
	var cfg amm.ModuleConfiguration

	if opts.Payload != "" {
		data, err := os.ReadFile(opts.Payload)
		if err != nil {
			return cfg, WrapExitError(ExitCommandError, "failed to read payload", err)
		}
		// JSON is a subset of YAML
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, WrapExitError(ExitCommandError, "failed to parse payload", err)
		}
	} else {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return cfg, WrapExitError(ExitCommandError, "failed to read configuration file", err)
		}
		cfg.CapabilitiesConfiguration = string(data)
	}

	if opts.ModuleID != "" {
		cfg.ModuleID = amm.ModuleID(opts.ModuleID)
	}
	if opts.Name != "" {
		cfg.Name = opts.Name
	}
	if opts.Encounter != "" {
		cfg.EducationalEncounter = opts.Encounter
	}
	if cfg.ModuleID == "" {
		return cfg, NewExitError(ExitCommandError, "a target module is required: use --module or set module_id in the payload")
	}
	cfg.Timestamp = amm.NowMillis()

	if opts.Schema != "" {
		schema, err := os.ReadFile(opts.Schema)
		if err != nil {
			return cfg, WrapExitError(ExitCommandError, "failed to read schema", err)
		}
		if err := capabilities.NewValidator().Validate(string(schema), cfg.CapabilitiesConfiguration); err != nil {
			return cfg, WrapExitError(ExitCommandError, "configuration does not match schema", err)
		}
	}

	return cfg, nil
}

type configureResult amm.ModuleConfiguration

func (c configureResult) Text() string {
	return fmt.Sprintf("sent configuration to %s (%d bytes)", c.ModuleID, len(c.CapabilitiesConfiguration))
}
