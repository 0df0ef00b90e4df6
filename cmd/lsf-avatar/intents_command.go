package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/saker-ai/lsf-avatar/internal/intent"
)

const examplesWidth = 48

func newIntentsCommand(ctx *commandContext) *cobra.Command {
	intentsCmd := &cobra.Command{
		Use:   "intents",
		Short: "Inspect the intent catalogue",
	}

	intentsCmd.AddCommand(newIntentsListCommand(ctx))
	intentsCmd.AddCommand(newIntentsMatchCommand(ctx))

	return intentsCmd
}

func (c *commandContext) loadCatalog() (*intent.Catalog, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	// Degraded catalogues still answer with the fallback; the error is only reported.
	catalog, err := intent.Load(cfg.IntentsPath, zap.NewNop())
	if err != nil {
		return catalog, fmt.Errorf("intent catalogue %s: %w", cfg.IntentsPath, err)
	}
	return catalog, nil
}

func newIntentsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List intents in match order",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := ctx.loadCatalog()
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderCatalog(catalog))
			return nil
		},
	}
}

func newIntentsMatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "match <text>",
		Short: "Show which intent a message resolves to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := ctx.loadCatalog()
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			record := catalog.Match(strings.Join(args, " "))
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "intent: %s\n", record.ID)
			fmt.Fprintf(out, "reply:  %s\n", record.Reply)
			fmt.Fprintf(out, "clip:   %s\n", record.Clip)
			return nil
		},
	}
}

// renderCatalog lists records in match order, ending with the fallback when it is built in.
func renderCatalog(catalog *intent.Catalog) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"#", "Intent", "Examples", "Reply", "Clip"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Name: "#", Align: text.AlignRight, AlignHeader: text.AlignRight},
		{Name: "Examples", WidthMax: examplesWidth},
	})

	declared := false
	for i, r := range catalog.Records() {
		declared = declared || r.ID == intent.FallbackID
		tw.AppendRow(table.Row{i + 1, r.ID, strings.Join(r.Examples, ", "), r.Reply, r.Clip})
	}
	if !declared {
		fb := catalog.Fallback()
		tw.AppendSeparator()
		tw.AppendRow(table.Row{"-", fb.ID + " (built-in)", "", fb.Reply, fb.Clip})
	}
	return tw.Render()
}
