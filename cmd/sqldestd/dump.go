package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nxsql/sqldest/internal/sqldest"
)

// effectiveConfigDump is the YAML shape printed by "sqldestd config
// effective": the fully resolved destination configuration after
// defaults, flag parsing, and dialect normalization have all been
// applied, so an operator can see exactly what the daemon would run
// with without having to mentally replay loadDestination's defaulting
// rules against the raw file.
type effectiveConfigDump struct {
	Driver           string               `yaml:"driver"`
	Host             string               `yaml:"host"`
	Port             string               `yaml:"port"`
	Database         string               `yaml:"database"`
	TableTemplate    string               `yaml:"table_template"`
	Fields           []effectiveFieldDump `yaml:"fields"`
	Indexes          []string             `yaml:"indexes,omitempty"`
	ExplicitCommits  bool                 `yaml:"explicit_commits"`
	DontCreateTables bool                 `yaml:"dont_create_tables"`
	FlushLines       int                  `yaml:"flush_lines"`
	NumRetries       int                  `yaml:"num_retries"`
	TimeReopen       int                  `yaml:"time_reopen"`
}

type effectiveFieldDump struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Default bool   `yaml:"default,omitempty"`
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect destination configuration files",
	}
	cmd.AddCommand(newConfigEffectiveCmd())
	return cmd
}

func newConfigEffectiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "effective <path>",
		Short: "Print a destination config's fully resolved form as YAML, after defaults and flag normalization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, tableTemplate, _, err := loadDestination(rootLogger(), args[0])
			if err != nil {
				return err
			}
			dump := toEffectiveConfigDump(cfg, tableTemplate)
			enc := yaml.NewEncoder(os.Stdout)
			defer enc.Close()
			if err := enc.Encode(dump); err != nil {
				return fmt.Errorf("sqldestd: encoding effective config: %w", err)
			}
			return nil
		},
	}
}

func toEffectiveConfigDump(cfg sqldest.Config, tableTemplate string) effectiveConfigDump {
	fields := make([]effectiveFieldDump, 0, len(cfg.Fields))
	for _, f := range cfg.Fields {
		fields = append(fields, effectiveFieldDump{Name: f.Name, Type: f.SQLType, Default: f.IsDefault})
	}
	return effectiveConfigDump{
		Driver:           string(cfg.Dialect()),
		Host:             cfg.Endpoint.Host,
		Port:             cfg.Endpoint.Port,
		Database:         cfg.Endpoint.Database,
		TableTemplate:    tableTemplate,
		Fields:           fields,
		Indexes:          cfg.Indexes,
		ExplicitCommits:  cfg.Flags.ExplicitCommits,
		DontCreateTables: cfg.Flags.DontCreateTables,
		FlushLines:       cfg.FlushLines,
		NumRetries:       cfg.NumRetries,
		TimeReopen:       cfg.TimeReopen,
	}
}
