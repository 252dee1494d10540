package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"wundot/internal/manager"
	"wundot/pkg/types"
)

func newGenerateCmd(opts *rootOptions) *cobra.Command {
	var (
		system    string
		history   string
		maxTokens int
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "generate [prompt...]",
		Short: "Run one batch generation and print the result",
		Long:  "Run one batch generation and print the result. A prompt of \"-\" is read from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := promptFromArgs(cmd, args)
			if err != nil {
				return err
			}
			cfg := opts.cfg
			mgr, err := newManager(cfg, scanModels(cfg, opts.log), opts.log)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := mgr.Initialize(ctx, cfg.ModelPath, 1); err != nil {
				return err
			}
			defer func() { _ = mgr.Shutdown(context.Background()) }()

			res, err := mgr.Run(ctx, manager.Request{System: system, History: history, Prompt: prompt, MaxTokens: maxTokens})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(types.GenerateResponse{
					Text:         res.Text,
					Tokens:       res.Tokens,
					PromptTokens: res.PromptTokens,
					FinishReason: res.FinishReason,
					DurationMS:   res.Duration.Milliseconds(),
				})
			}
			_, err = fmt.Fprintln(out, strings.TrimSpace(res.Text))
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&system, "system", "", "System prompt")
	f.StringVar(&history, "history", "", "Earlier conversation text")
	f.IntVar(&maxTokens, "max-tokens", 0, "Maximum new tokens (0 = policy value)")
	f.BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	return cmd
}

// promptFromArgs joins args, or reads stdin when the only arg is "-".
func promptFromArgs(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}
	return strings.Join(args, " "), nil
}
