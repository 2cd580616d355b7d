package main

import (
	"fmt"
	"os"

	"github.com/adrianmcphee/cqlstore/internal/export"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export <collection>...",
	Short: "Dump collections as a CQL script",
	Long: `Writes the keyspace and table definitions followed by one INSERT per
record. Replaying the script with cqlsh recreates the collections.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "Write to this file instead of stdout")
	exportCmd.Flags().Bool("schema-only", false, "Only export keyspace and table definitions")
}

func runExport(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.backend.Config()

	var script string
	if schemaOnly, _ := cmd.Flags().GetBool("schema-only"); schemaOnly {
		script, err = export.ExportDDL(cfg, args)
	} else {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		script, err = export.Export(ctx, cfg, a.backend.Store(), args)
	}
	if err != nil {
		return err
	}

	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		_, err = fmt.Fprint(cmd.OutOrStdout(), script)
		return err
	}
	return os.WriteFile(output, []byte(script), 0644)
}
