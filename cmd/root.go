// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ehr-cua/internal/computer"
	"github.com/xkilldash9x/ehr-cua/internal/config"
	"github.com/xkilldash9x/ehr-cua/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

var (
	cfgFile string

	// ErrExtractionNotSuccessful is returned when a run ends in any status other than success.
	ErrExtractionNotSuccessful = errors.New("extraction did not complete successfully")
	errMissingAPIKey           = errors.New("OPENAI_API_KEY is not set")
)

const longDescription = `A visual computer-use agent that extracts ICD-10 diagnoses and active
medications from an EHR by reading the screen. No DOM selectors are used.

Examples:
  ehr-cua --patient-id "John Smith"
  ehr-cua --patient-id "Jane Doe" --debug
  ehr-cua --patient-id "Robert Johnson" --computer browserbase

Environment Variables:
  OPENAI_API_KEY     Required: Your OpenAI API key with Computer Use access
  START_URL          Optional: EHR login URL (defaults to Practice Fusion)
  EHRCUA_*           Optional: override any configuration key, e.g. EHRCUA_LOGGER_LEVEL`

// NewRootCmd builds the ehr-cua command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ehr-cua",
		Short:         "EHR Computer-Use Agent Extractor",
		Long:          longDescription,
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "ehr-cua"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}
			if err := applyFlagOverrides(cmd, cfg); err != nil {
				return err
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting ehr-cua", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
		RunE: runRoot,
	}

	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	cmd.Flags().String("patient-id", "", "Patient name to search for (uses visual search, works with any EHR system)")
	cmd.Flags().String("computer", "local-playwright", fmt.Sprintf("Computer environment to use %v", computer.Names()))
	cmd.Flags().String("start-url", "", "EHR login URL (defaults to START_URL, then Practice Fusion)")
	cmd.Flags().Bool("debug", false, "Enable debug mode with detailed logging")
	cmd.Flags().String("output-dir", "", "Directory for extraction result files (default ./ehr_extractions)")
	cmd.Flags().Bool("headless", false, "Run the local browser without a window")
	cmd.Flags().String("model", "", "Responses API model (default computer-use-preview)")
	_ = cmd.MarkFlagRequired("patient-id")

	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	return cmd
}

// Execute runs the root command with a signal-aware context.
func Execute(ctx context.Context) error {
	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil && !errors.Is(err, ErrExtractionNotSuccessful) && !errors.Is(err, errMissingAPIKey) {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
	}
	return err
}

// initializeConfig reads in config file and ENV variables if set.
func initializeConfig(cmd *cobra.Command, v *viper.Viper) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("EHRCUA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}
	return nil
}

// applyFlagOverrides copies explicitly set flags over file and environment values.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("computer") {
		name, _ := flags.GetString("computer")
		cfg.SetComputerType(name)
	}
	if flags.Changed("start-url") {
		u, _ := flags.GetString("start-url")
		cfg.SetStartURL(u)
	}
	if flags.Changed("output-dir") {
		dir, _ := flags.GetString("output-dir")
		cfg.SetOutputDir(dir)
	}
	if flags.Changed("headless") {
		headless, _ := flags.GetBool("headless")
		cfg.SetComputerHeadless(headless)
	}
	if flags.Changed("model") {
		model, _ := flags.GetString("model")
		cfg.SetModel(model)
	}
	if debug, _ := flags.GetBool("debug"); debug {
		cfg.SetDebug(true)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func configFrom(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration was not loaded")
	}
	return cfg, nil
}
