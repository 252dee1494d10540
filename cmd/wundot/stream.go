package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStreamCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stream [prompt...]",
		Short: "Stream a completion fragment by fragment",
		Long:  "Open a streaming session on the configured model and print fragments as they are produced. A prompt of \"-\" is read from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := promptFromArgs(cmd, args)
			if err != nil {
				return err
			}
			cfg := opts.cfg
			if cfg.ModelPath == "" && cfg.DefaultModel == "" {
				return fmt.Errorf("stream needs --model or default_model")
			}
			mgr, err := newManager(cfg, scanModels(cfg, opts.log), opts.log)
			if err != nil {
				return err
			}
			model := cfg.ModelPath
			if model == "" {
				model = cfg.DefaultModel
			}
			id, err := mgr.StreamOpen(model)
			if err != nil {
				return err
			}
			defer func() { _ = mgr.StreamClose(id) }()
			if err := mgr.StreamFeed(id, prompt); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			ctx := cmd.Context()
			for ctx.Err() == nil {
				frag, ok, err := mgr.StreamNext(id)
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				if _, err := fmt.Fprint(out, frag); err != nil {
					return err
				}
			}
			_, err = fmt.Fprintln(out)
			return err
		},
	}
}
