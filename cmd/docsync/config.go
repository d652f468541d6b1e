/*
 * Copyright 2025 The Yorkie Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/yorkie-team/docsync/engine"
)

// loadConfig loads the config from the --config flag or the DOCSYNC_CONFIG
// environment variable, and applies the log level flag on top of it.
func loadConfig() (*engine.Config, error) {
	conf := engine.NewConfig()
	if path := viper.GetString("config"); path != "" {
		parsed, err := engine.NewConfigFromFile(path)
		if err != nil {
			return nil, err
		}
		conf = parsed
	}

	if level := viper.GetString("log-level"); level != "" {
		conf.LogLevel = level
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// validateOutput validates the --output flag.
func validateOutput(output string) error {
	if output != "" && output != "yaml" && output != "json" {
		return errors.New(`--output must be 'yaml' or 'json'`)
	}
	return nil
}

// printStructured prints v as YAML or JSON. It prints YAML when no format
// is given.
func printStructured(cmd *cobra.Command, output string, v any) error {
	switch output {
	case "json":
		marshalled, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal JSON: %w", err)
		}
		cmd.Println(string(marshalled))
	default:
		marshalled, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal YAML: %w", err)
		}
		cmd.Print(string(marshalled))
	}
	return nil
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective engine config",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := viper.GetString("output")
			if err := validateOutput(output); err != nil {
				return err
			}

			conf, err := loadConfig()
			if err != nil {
				return err
			}
			return printStructured(cmd, output, conf)
		},
	}
}

func init() {
	rootCmd.AddCommand(newConfigCmd())
}
