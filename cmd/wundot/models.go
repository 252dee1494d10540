package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newModelsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List *.gguf models found in models_dir",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := scanModels(opts.cfg, opts.log)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tFAMILY\tQUANT\tPATH")
			for _, m := range reg {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, m.Family, m.Quant, m.Path)
			}
			return tw.Flush()
		},
	}
}
