/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package cmd contains commands of the vlimitd binary.
package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/acronis/go-vlimit/config"
	"github.com/acronis/go-vlimit/diag"
	"github.com/acronis/go-vlimit/httpserver"
	"github.com/acronis/go-vlimit/log"
	"github.com/acronis/go-vlimit/vhost"
)

const envVarsPrefix = "VLIMIT"

const defaultConfigFile = "vlimit.yml"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "vlimitd",
	Short: "Static file server limiting concurrent requests per client IP and per file",
	Long: `vlimitd serves files of virtual hosts and limits the number of concurrently processed requests
per client IP address and per requested file. Counters are kept in a shared memory region,
so the limits are enforced across all worker processes.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", defaultConfigFile, "config file (YAML or JSON)")
}

// AppConfig is the configuration of the vlimitd binary.
type AppConfig struct {
	Server *httpserver.Config
	VLimit *vhost.Config
	Diag   *diag.Config
	Log    *log.Config
}

// NewAppConfig creates a new instance of the AppConfig.
func NewAppConfig() *AppConfig {
	return &AppConfig{
		Server: httpserver.NewConfig(),
		VLimit: vhost.NewConfig(),
		Diag:   diag.NewConfig(),
		Log:    log.NewConfig(),
	}
}

func loadAppConfig(path string) (*AppConfig, error) {
	cfg := NewAppConfig()
	loader := config.NewDefaultLoader(envVarsPrefix)
	if err := loader.LoadFromFile(path, configDataType(path), cfg.Server, cfg.VLimit, cfg.Diag, cfg.Log); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}
	return cfg, nil
}

func configDataType(path string) config.DataType {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return config.DataTypeJSON
	}
	return config.DataTypeYAML
}
