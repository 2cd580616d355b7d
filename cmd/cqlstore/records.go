package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/adrianmcphee/cqlstore"
	"github.com/spf13/cobra"
)

var (
	getCmd = &cobra.Command{
		Use:   "get <collection> <key>",
		Short: "Print the value stored under key",
		Args:  cobra.ExactArgs(2),
		RunE:  runGet,
	}

	selectCmd = &cobra.Command{
		Use:   "select <collection> [key...]",
		Short: "Print records of a collection as a JSON object (all of them when no key is given)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSelect,
	}

	setCmd = &cobra.Command{
		Use:   "set <collection> <key> [json-value]",
		Short: "Store a JSON value under key (read from stdin when omitted)",
		Args:  cobra.RangeArgs(2, 3),
		RunE:  runSet,
	}

	delCmd = &cobra.Command{
		Use:     "del <collection> <key>",
		Aliases: []string{"delete", "rm"},
		Short:   "Delete the record stored under key",
		Args:    cobra.ExactArgs(2),
		RunE:    runDel,
	}
)

func init() {
	getCmd.Flags().Bool("metadata", false, "Print the record metadata instead of its value")
	setCmd.Flags().Int("ttl", 0, "Expire the record after this many seconds (0 keeps it)")
	setCmd.Flags().String("metadata", "", "JSON metadata stored with the record")
}

func runGet(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	rec, err := a.backend.Store().GetRecord(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%s/%s: %w", args[0], args[1], cqlstore.ErrNotFound)
	}

	out := rec.Value
	if withMeta, _ := cmd.Flags().GetBool("metadata"); withMeta {
		out = rec.Metadata
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

func runSelect(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	sel := cqlstore.AllKeys()
	if len(args) > 1 {
		sel = cqlstore.Keys(args[1:]...)
	}
	records, err := a.backend.Select(ctx, args[0], sel)
	if err != nil {
		return err
	}
	return writeRecords(cmd.OutOrStdout(), records)
}

// writeRecords prints record values as a JSON object keyed by record key
func writeRecords(w io.Writer, records map[string]cqlstore.Record) error {
	out := make(map[string]json.RawMessage, len(records))
	for key, rec := range records {
		out[key] = json.RawMessage(rec.Value)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runSet(cmd *cobra.Command, args []string) error {
	var raw []byte
	if len(args) == 3 {
		raw = []byte(args[2])
	} else {
		var err error
		if raw, err = io.ReadAll(cmd.InOrStdin()); err != nil {
			return fmt.Errorf("read value: %w", err)
		}
	}
	if !json.Valid(raw) {
		return fmt.Errorf("value is not valid JSON")
	}

	var opts []cqlstore.SetOption
	if ttl, _ := cmd.Flags().GetInt("ttl"); ttl != 0 {
		opts = append(opts, cqlstore.WithExpiration(ttl))
	}
	if meta, _ := cmd.Flags().GetString("metadata"); meta != "" {
		if !json.Valid([]byte(meta)) {
			return fmt.Errorf("metadata is not valid JSON")
		}
		opts = append(opts, cqlstore.WithMetadata(json.RawMessage(meta)))
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	if err := a.backend.Set(ctx, args[0], args[1], json.RawMessage(raw), opts...); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "stored %s/%s\n", args[0], args[1])
	return nil
}

func runDel(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	return a.backend.Delete(ctx, args[0], args[1])
}
