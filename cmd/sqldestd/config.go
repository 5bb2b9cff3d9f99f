package main

import (
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/nxsql/sqldest/internal/sqldest"
)

// destinationFile is the YAML shape one destination's configuration
// file takes. Template compilation/evaluation itself is out of scope
// for sqldest proper (spec.md §1's external collaborators); here it is
// just the raw template strings the host (this binary) hands to the
// simple Go-template-backed renderer in templates.go.
type destinationFile struct {
	Driver  string            `mapstructure:"driver"`
	Host    string            `mapstructure:"host"`
	Port    string            `mapstructure:"port"`
	User    string            `mapstructure:"user"`
	Passwd  string            `mapstructure:"password"`
	DB      string            `mapstructure:"database"`
	Charset string            `mapstructure:"encoding"`
	Table   string            `mapstructure:"table"`
	Fields  []fieldFile       `mapstructure:"fields"`
	Indexes []string          `mapstructure:"indexes"`
	Null    string            `mapstructure:"null_value"`
	Flags   []string          `mapstructure:"flags"`
	Flush   int               `mapstructure:"flush_lines"`
	Retries int               `mapstructure:"num_retries"`
	Reopen  int               `mapstructure:"time_reopen"`
	Session []string          `mapstructure:"session_statements"`
	Extra   map[string]string `mapstructure:"extra"`
}

type fieldFile struct {
	Name    string `mapstructure:"name"`
	Type    string `mapstructure:"type"`
	Value   string `mapstructure:"value"`
	Default bool   `mapstructure:"default"`
}

// loadDestination reads path (YAML, via viper) and assembles a validated
// sqldest.Config plus the template text the worker needs rendered for
// the table name and each field value. Defaults mirror the values
// afsql_dd_init seeds before the user's config overrides them.
func loadDestination(log *slog.Logger, path string) (sqldest.Config, string, map[string]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("flush_lines", -1)
	v.SetDefault("num_retries", 3)
	v.SetDefault("time_reopen", 10)

	if err := v.ReadInConfig(); err != nil {
		return sqldest.Config{}, "", nil, fmt.Errorf("sqldestd: reading destination config %q: %w", path, err)
	}

	var doc destinationFile
	if err := v.Unmarshal(&doc); err != nil {
		return sqldest.Config{}, "", nil, fmt.Errorf("sqldestd: parsing destination config %q: %w", path, err)
	}

	cfg, valueTemplates, err := buildConfig(log, doc)
	if err != nil {
		return sqldest.Config{}, "", nil, err
	}
	return cfg, doc.Table, valueTemplates, nil
}

// watchDestination re-reads path on change and invokes onChange with the
// freshly built Config, using viper's fsnotify-backed WatchConfig the
// same way the teacher's cmd/bd/config.go hot-reloads project settings.
// Only cfg fields safe to rotate under a live worker are meaningful to
// apply (flush_lines, num_retries, time_reopen, session_statements);
// the caller decides what to do with the rest.
func watchDestination(log *slog.Logger, path string, onChange func(sqldest.Config)) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("flush_lines", -1)
	v.SetDefault("num_retries", 3)
	v.SetDefault("time_reopen", 10)
	if err := v.ReadInConfig(); err != nil {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		var doc destinationFile
		if err := v.Unmarshal(&doc); err != nil {
			log.Warn("ignoring unparsable destination config reload", slog.String("path", path), slog.String("error", err.Error()))
			return
		}
		cfg, _, err := buildConfig(log, doc)
		if err != nil {
			log.Warn("ignoring invalid destination config reload", slog.String("path", path), slog.String("error", err.Error()))
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

func buildConfig(log *slog.Logger, doc destinationFile) (sqldest.Config, map[string]string, error) {
	fields := make([]sqldest.FieldSpec, 0, len(doc.Fields))
	valueTemplates := make(map[string]string, len(doc.Fields))
	for _, f := range doc.Fields {
		fields = append(fields, sqldest.FieldSpec{
			Name:          f.Name,
			SQLType:       f.Type,
			ValueTemplate: f.Value,
			IsDefault:     f.Default,
		})
		if !f.Default {
			valueTemplates[f.Name] = f.Value
		}
	}

	flushLines := doc.Flush
	if flushLines == 0 {
		flushLines = -1
	}
	numRetries := doc.Retries
	if numRetries == 0 {
		numRetries = 3
	}
	timeReopen := doc.Reopen
	if timeReopen == 0 {
		timeReopen = 10
	}

	cfg := sqldest.Config{
		DriverKind: doc.Driver,
		Endpoint: sqldest.Endpoint{
			Host:     doc.Host,
			Port:     doc.Port,
			User:     doc.User,
			Password: doc.Passwd,
			Database: doc.DB,
			Encoding: doc.Charset,
		},
		TableTemplate:     doc.Table,
		Fields:            fields,
		Indexes:           doc.Indexes,
		NullSentinel:      doc.Null,
		Flags:             sqldest.ParseFlags(log, doc.Flags),
		FlushLines:        flushLines,
		NumRetries:        numRetries,
		TimeReopen:        timeReopen,
		SessionStatements: doc.Session,
	}
	if cfg.Endpoint.Port != "" && !sqldest.ValidatePort(cfg.Endpoint.Port) {
		return sqldest.Config{}, nil, fmt.Errorf("sqldestd: port %q is not a digit string", cfg.Endpoint.Port)
	}
	if err := cfg.Validate(); err != nil {
		return sqldest.Config{}, nil, err
	}
	return cfg, valueTemplates, nil
}
