package main

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const envPrefix = "MMAPCTL_"

// Options holds the settings shared by all subcommands.
// Precedence is flags > environment > config file > flag defaults.
type Options struct {
	Config        string
	Card          int    `toml:"device.card" env:"CARD"`
	Device        int    `toml:"device.device" env:"DEVICE"`
	Rate          int    `toml:"stream.rate" env:"RATE"`
	Channels      int    `toml:"stream.channels" env:"CHANNELS"`
	Format        string `toml:"stream.format" env:"FORMAT"`
	PeriodSize    int    `toml:"stream.period_size" env:"PERIOD_SIZE"`
	PeriodCount   int    `toml:"stream.period_count" env:"PERIOD_COUNT"`
	Monotonic     bool   `toml:"stream.monotonic" env:"MONOTONIC"`
	LogLevel      string `toml:"logging.level" env:"LOG_LEVEL"`
	LogFormat     string `toml:"logging.format" env:"LOG_FORMAT"`
	MetricsListen string `toml:"metrics.listen" env:"METRICS_LISTEN"`
}

// LoadConfig fills opts from the TOML file named by opts.Config and from MMAPCTL_* environment
// variables. Fields whose flag was set on the command line are left alone.
func LoadConfig(opts *Options, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts).Elem()
	t := v.Type()

	changed := make(map[string]bool)
	if cmd != nil {
		// Persistent flags only show up in Flags() once cobra has parsed the command line.
		for _, fs := range []*pflag.FlagSet{cmd.Flags(), cmd.PersistentFlags()} {
			fs.VisitAll(func(f *pflag.Flag) {
				if f.Changed {
					changed[f.Name] = true
				}
			})
		}
	}

	var file map[string]any
	if opts.Config != "" {
		data, err := os.ReadFile(opts.Config)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		if err := toml.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("failed to parse TOML config: %w", err)
		}
	}

	for i := range v.NumField() {
		field := v.Field(i)
		fieldType := t.Field(i)

		if changed[fieldNameToFlag(fieldType.Name)] {
			continue
		}

		if path := fieldType.Tag.Get("toml"); path != "" && file != nil {
			if value := getNestedValue(file, path); value != nil {
				if err := setFieldValue(field, value); err != nil {
					return fmt.Errorf("config key %s: %w", path, err)
				}
			}
		}

		if key := fieldType.Tag.Get("env"); key != "" {
			if value := os.Getenv(envPrefix + key); value != "" {
				if err := setFieldValueFromString(field, value); err != nil {
					return fmt.Errorf("environment %s%s: %w", envPrefix, key, err)
				}
			}
		}
	}

	return nil
}

// fieldNameToFlag converts a struct field name to a CLI flag name, "PeriodSize" -> "period-size".
func fieldNameToFlag(name string) string {
	var result []rune
	for i, r := range name {
		if i > 0 && unicode.IsUpper(r) {
			result = append(result, '-')
		}
		result = append(result, unicode.ToLower(r))
	}

	return string(result)
}

// getNestedValue looks up a dotted path such as "stream.rate".
func getNestedValue(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	current := data

	for i, part := range parts {
		if i == len(parts)-1 {
			return current[part]
		}

		next, ok := current[part].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}

	return nil
}

func setFieldValue(field reflect.Value, value any) error {
	switch field.Kind() {
	case reflect.String:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("want a string, got %T", value)
		}
		field.SetString(s)
	case reflect.Bool:
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("want a boolean, got %T", value)
		}
		field.SetBool(b)
	case reflect.Int:
		i, ok := value.(int64)
		if !ok {
			return fmt.Errorf("want an integer, got %T", value)
		}
		field.SetInt(i)
	}

	return nil
}

func setFieldValueFromString(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int:
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)
	}

	return nil
}
