package main

import (
	"encoding/json"
	"fmt"
	"io"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"wundot/internal/sampling"
)

func newProfilesCmd(opts *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "profiles [name]",
		Short: "List sampling profiles, or print one resolved profile",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table := opts.cfg.ProfileTable()
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, n := range table.Names() {
					if _, err := fmt.Fprintln(out, n); err != nil {
						return err
					}
				}
				return nil
			}
			p, ok := table.Lookup(args[0])
			if !ok {
				return fmt.Errorf("unknown profile %q", args[0])
			}
			return writePolicy(out, format, p)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", "yaml", "Output format: yaml|toml|json")
	return cmd
}

func writePolicy(w io.Writer, format string, p sampling.Policy) error {
	switch format {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(p); err != nil {
			return err
		}
		return enc.Close()
	case "toml":
		return toml.NewEncoder(w).Encode(p)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
