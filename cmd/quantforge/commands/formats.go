package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/xupit3r/quantforge/internal/catalog"
)

func newFormatsCommand() *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:               "formats [format...]",
		Short:             "List the quantization formats that will be produced",
		ValidArgsFunction: completeFormats,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			cat, err := catalog.FromConfig(cfg.Catalog)
			if err != nil {
				return err
			}

			targets := cat.All()
			if len(args) > 0 {
				labels := lo.Map(targets, func(t catalog.Target, _ int) string { return t.Label() })
				if unknown := lo.Without(args, labels...); len(unknown) > 0 {
					return fmt.Errorf("unknown formats: %v", unknown)
				}
				targets = lo.Filter(targets, func(t catalog.Target, _ int) bool { return lo.Contains(args, t.Label()) })
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "FORMAT\tFILE\tIMATRIX")
			fmt.Fprintln(w, "------\t----\t-------")

			for _, t := range targets {
				needs := ""
				if t.NeedsCalibration() {
					needs = "✓"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", t.Label(), t.FileName(model, cat.Extension), needs)
			}

			if err := w.Flush(); err != nil {
				return err
			}

			if len(args) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "\n%d standard, %d calibrated (calibrated formats need --calibration-data)\n",
					len(cat.Standard()), len(cat.Calibrated()))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "MODEL", "model name used in the file names")
	return cmd
}
