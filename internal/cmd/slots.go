/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/acronis/go-vlimit/admission"
	"github.com/acronis/go-vlimit/vhost"
)

const (
	slotsFormatYAML = "yaml"
	slotsFormatJSON = "json"
)

var slotsFormat string

var slotsCmd = &cobra.Command{
	Use:   "slots",
	Short: "Print occupied slots of the shared counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runSlots(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	slotsCmd.Flags().StringVarP(&slotsFormat, "format", "f", slotsFormatYAML, "output format (yaml or json)")
	rootCmd.AddCommand(slotsCmd)
}

type slotView struct {
	Index   int    `yaml:"index" json:"index"`
	Key     string `yaml:"key" json:"key"`
	Counter int    `yaml:"counter" json:"counter"`
}

type configSlotsView struct {
	ConfigID      int        `yaml:"configId" json:"configId"`
	Kind          string     `yaml:"kind" json:"kind"`
	Scope         string     `yaml:"scope,omitempty" json:"scope,omitempty"`
	IPLimit       int        `yaml:"ipLimit" json:"ipLimit"`
	ResourceLimit int        `yaml:"resourceLimit" json:"resourceLimit"`
	IP            []slotView `yaml:"ip" json:"ip"`
	Resources     []slotView `yaml:"resources" json:"resources"`
}

func runSlots(ctx context.Context, out io.Writer) error {
	if slotsFormat != slotsFormatYAML && slotsFormat != slotsFormatJSON {
		return fmt.Errorf("unknown output format %q", slotsFormat)
	}
	cfg, err := loadAppConfig(cfgFile)
	if err != nil {
		return err
	}
	resolver, err := vhost.NewResolver(cfg.VLimit, nil)
	if err != nil {
		return err
	}
	attachOpts := cfg.VLimit.AttachOpts(true)
	attachOpts.RetryAttempts = 1
	store, err := admission.AttachStore(ctx, attachOpts)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	views, err := collectSlots(store, resolver.Limits())
	if err != nil {
		return err
	}
	return writeSlots(out, slotsFormat, views)
}

func collectSlots(store *admission.Store, limits []admission.LimitConfig) ([]configSlotsView, error) {
	views := make([]configSlotsView, 0, store.Configs())
	for configID := 0; configID < store.Configs(); configID++ {
		snap, err := store.Snapshot(configID)
		if err != nil {
			return nil, fmt.Errorf("snapshot counters of configuration %d: %w", configID, err)
		}
		view := configSlotsView{
			ConfigID:  configID,
			Kind:      admission.ScopeUnset.String(),
			IP:        makeSlotViews(snap.IP),
			Resources: makeSlotViews(snap.Resources),
		}
		for _, lim := range limits {
			if lim.ConfigID == configID {
				view.Kind = lim.Kind.String()
				view.Scope = lim.ScopePath
				view.IPLimit = lim.IPLimit
				view.ResourceLimit = lim.ResourceLimit
				break
			}
		}
		views = append(views, view)
	}
	return views, nil
}

func makeSlotViews(slots []admission.Slot) []slotView {
	views := make([]slotView, 0, len(slots))
	for _, s := range slots {
		views = append(views, slotView{Index: s.Index, Key: s.Key, Counter: s.Counter})
	}
	return views
}

func writeSlots(out io.Writer, format string, views []configSlotsView) error {
	if format == slotsFormatJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(views); err != nil {
		return err
	}
	return enc.Close()
}
