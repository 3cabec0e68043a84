//go:build unix

/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"

	"github.com/acronis/go-vlimit/admission"
	"github.com/acronis/go-vlimit/log"
	"github.com/acronis/go-vlimit/service"
	"github.com/acronis/go-vlimit/vhost"
)

// Worker processes are given the HTTP server shutdown timeout plus this margin to exit.
const workerStopMargin = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Create shared counters and serve files",
	Long: `Create the shared counters region and the lock guarding it, then serve files.
With vlimit.workers greater than 1, the configured number of worker processes is spawned,
every worker attaches to the shared counters and listens on the same address.`,
	Args: cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := loadAppConfig(cfgFile)
	if err != nil {
		return err
	}
	logger, closeLogger := log.NewLogger(cfg.Log)
	defer closeLogger()

	resolver, err := vhost.NewResolver(cfg.VLimit, nil)
	if err != nil {
		logger.Error("invalid virtual hosts configuration", log.Error(err))
		return err
	}
	if cfg.VLimit.Workers > 1 && !cfg.Server.ReusePort {
		err = errors.New("server.reusePort should be enabled for running multiple workers")
		logger.Error("invalid configuration", log.Error(err))
		return err
	}

	store, err := admission.CreateStore(cfg.VLimit.StoreOpts(resolver.Configs()))
	if err != nil {
		logger.Error("failed to create shared counters", log.Error(err))
		return fmt.Errorf("create shared counters: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("failed to close shared counters", log.Error(closeErr))
		}
		if rmErr := store.Remove(); rmErr != nil {
			logger.Warn("failed to remove shared counters", log.Error(rmErr))
		}
	}()

	logger.Info(fmt.Sprintf("allocated %s of shared memory, %s per configuration, %d slots per table",
		bytefmt.ByteSize(uint64(store.Size())), bytefmt.ByteSize(uint64(store.BytesPerConfig())), store.Slots()),
		log.String("region", store.RegionPath()),
		log.String("lock", store.LockPath()),
		log.Int("configs", store.Configs()),
	)

	if cfg.VLimit.Workers <= 1 {
		return runHTTP(cfg, logger, store, resolver)
	}

	command, err := newWorkerCommandFunc(cfgFile)
	if err != nil {
		return err
	}
	pool := service.NewProcessPool(cfg.VLimit.Workers, command, logger, service.ProcessPoolOpts{
		StopTimeout: time.Duration(cfg.Server.Timeouts.Shutdown) + workerStopMargin,
	})
	return service.New(logger, pool).Start()
}

// newWorkerCommandFunc returns a function creating commands that run the worker command of the current executable.
// Workers are placed into their own process group, so terminal signals reach them only through the pool.
func newWorkerCommandFunc(configPath string) (service.ProcessCommandFunc, error) {
	executable, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("get executable path: %w", err)
	}
	if configPath, err = filepath.Abs(configPath); err != nil {
		return nil, fmt.Errorf("get absolute config path: %w", err)
	}
	return func(i int) *exec.Cmd {
		cmd := exec.Command(executable, workerCmd.Name(), "--config", configPath, "--index", strconv.Itoa(i))
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		return cmd
	}, nil
}
