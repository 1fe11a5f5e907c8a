package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/arkilian/framekit/internal/service"
)

func newTransformersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "transformers",
		Short: "List the available transformers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := table.NewWriter()
			tw.SetStyle(table.StyleRounded)
			tw.AppendHeader(table.Row{"ID", "Name", "Description"})
			for _, t := range service.New(service.Options{}).Transformers() {
				tw.AppendRow(table.Row{t.ID, t.Name, t.Description})
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), tw.Render())
			return err
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "framekit version %s (commit: %s)\n", version, commit)
		},
	}
}
