package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// Config captures all command-line options required to run an extraction.
type Config struct {
	InputPath         string
	OutputDir         string
	MetadataPath      string
	Workers           int
	CollisionScope    string
	ExtendedColumns   bool
	IncludeBodyColumn bool
	LogLevel          string
	LogDir            string
	IncludeHeader     []string
	IncludeBody       []string
	ExcludeHeader     []string
	ExcludeBody       []string
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.String("input", "", "Path to the input artifact (.eml or .mbox)")
	flags.String("output-dir", "", "Directory for extracted attachment and inline files")
	flags.String("metadata", "", "Path for the metadata CSV (defaults to <output-dir>/metadata.csv)")
	flags.Int("workers", 4, "Number of concurrent message workers")
	flags.String("collision-scope", "message", "Filename collision scope: message or run")
	flags.Bool("extended-columns", false, "Add content_type and user_agent columns to the metadata CSV")
	flags.Bool("include-body-column", false, "Add the decoded body text as a CSV column")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (stdout only when empty)")
	flags.StringArray("include-header", nil, "Regex allow-list applied to raw message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to raw message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to raw message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to raw message bodies (mutually exclusive with include flags)")

	if err := cmd.MarkFlagRequired("input"); err != nil {
		return err
	}
	if err := cmd.MarkFlagRequired("output-dir"); err != nil {
		return err
	}

	return nil
}

// LoadConfig converts the parsed Cobra flags into a Config struct with validation.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	inputPath, err := flags.GetString("input")
	if err != nil {
		return Config{}, err
	}
	outputDir, err := flags.GetString("output-dir")
	if err != nil {
		return Config{}, err
	}
	metadataPath, err := flags.GetString("metadata")
	if err != nil {
		return Config{}, err
	}
	workers, err := flags.GetInt("workers")
	if err != nil {
		return Config{}, err
	}
	collisionScope, err := flags.GetString("collision-scope")
	if err != nil {
		return Config{}, err
	}
	extendedColumns, err := flags.GetBool("extended-columns")
	if err != nil {
		return Config{}, err
	}
	includeBodyColumn, err := flags.GetBool("include-body-column")
	if err != nil {
		return Config{}, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return Config{}, err
	}
	logDir, err := flags.GetString("log-dir")
	if err != nil {
		return Config{}, err
	}
	includeHeader, err := flags.GetStringArray("include-header")
	if err != nil {
		return Config{}, err
	}
	includeBody, err := flags.GetStringArray("include-body")
	if err != nil {
		return Config{}, err
	}
	excludeHeader, err := flags.GetStringArray("exclude-header")
	if err != nil {
		return Config{}, err
	}
	excludeBody, err := flags.GetStringArray("exclude-body")
	if err != nil {
		return Config{}, err
	}

	if outputDir != "" {
		outputDir = filepath.Clean(outputDir)
	}
	if metadataPath == "" && outputDir != "" {
		metadataPath = filepath.Join(outputDir, "metadata.csv")
	}

	logLevel = strings.ToLower(logLevel)
	if logLevel == "warning" {
		logLevel = "warn"
	}

	cfg := Config{
		InputPath:         inputPath,
		OutputDir:         outputDir,
		MetadataPath:      metadataPath,
		Workers:           workers,
		CollisionScope:    strings.ToLower(collisionScope),
		ExtendedColumns:   extendedColumns,
		IncludeBodyColumn: includeBodyColumn,
		LogLevel:          logLevel,
		LogDir:            logDir,
		IncludeHeader:     includeHeader,
		IncludeBody:       includeBody,
		ExcludeHeader:     excludeHeader,
		ExcludeBody:       excludeBody,
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.InputPath == "" {
		return fmt.Errorf("--input is required")
	}
	if cfg.OutputDir == "" {
		return fmt.Errorf("--output-dir is required")
	}
	if cfg.Workers < 1 || cfg.Workers > 256 {
		return fmt.Errorf("--workers must be between 1 and 256")
	}

	switch cfg.CollisionScope {
	case "message", "run":
	default:
		return fmt.Errorf("invalid --collision-scope: %s", cfg.CollisionScope)
	}

	includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}
