/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/acronis/go-vlimit/admission"
	"github.com/acronis/go-vlimit/log"
	"github.com/acronis/go-vlimit/vhost"
)

var workerIndex int

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Attach to shared counters created by serve and serve files",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runWorker(cmd.Context())
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerIndex, "index", 0, "index of the worker process")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(ctx context.Context) error {
	cfg, err := loadAppConfig(cfgFile)
	if err != nil {
		return err
	}
	logger, closeLogger := log.NewLogger(cfg.Log)
	defer closeLogger()
	logger = logger.With(log.Int("worker", workerIndex), log.Int("pid", os.Getpid()))

	resolver, err := vhost.NewResolver(cfg.VLimit, nil)
	if err != nil {
		logger.Error("invalid virtual hosts configuration", log.Error(err))
		return err
	}

	attachOpts := cfg.VLimit.AttachOpts(false)
	attachOpts.Logger = logger
	store, err := admission.AttachStore(ctx, attachOpts)
	if err != nil {
		logger.Error("failed to attach to shared counters", log.Error(err))
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("failed to close shared counters", log.Error(closeErr))
		}
	}()
	if store.Configs() < resolver.Configs() {
		err = fmt.Errorf("shared counters fit %d configurations, %d are declared", store.Configs(), resolver.Configs())
		logger.Error("shared counters do not match configuration", log.Error(err))
		return err
	}

	return runHTTP(cfg, logger, store, resolver)
}
