// Package export dumps cqlstore collections as a replayable CQL script.
package export

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/adrianmcphee/cqlstore"
)

// ExportDDL generates the keyspace and table statements for collections
func ExportDDL(cfg cqlstore.Config, collections []string) (string, error) {
	keyspace, err := cqlstore.KeyspaceDDL(cfg)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("-- cqlstore export\n")
	sb.WriteString("-- Generated schema (TTLs are not carried over)\n\n")
	sb.WriteString(keyspace + ";\n")
	sb.WriteString("USE " + cfg.Namespace + ";\n")

	for _, collection := range sortedCopy(collections) {
		table, err := cqlstore.TableDDL(collection)
		if err != nil {
			return "", err
		}
		sb.WriteString("\n" + table + ";\n")
	}
	return sb.String(), nil
}

// ExportData generates INSERT statements for every record in collections
func ExportData(ctx context.Context, store *cqlstore.Store, collections []string) (string, error) {
	var sb strings.Builder
	sb.WriteString("-- cqlstore data export\n")

	for _, collection := range sortedCopy(collections) {
		records, err := store.Select(ctx, collection, cqlstore.AllKeys())
		if err != nil {
			return "", fmt.Errorf("export %s: %w", collection, err)
		}
		if len(records) == 0 {
			continue
		}

		sb.WriteString(fmt.Sprintf("\n-- %s (%d records)\n", collection, len(records)))
		keys := make([]string, 0, len(records))
		for key := range records {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			sb.WriteString(RecordToInsert(collection, records[key]))
		}
	}
	return sb.String(), nil
}

// Export generates the full script: schema followed by data
func Export(ctx context.Context, cfg cqlstore.Config, store *cqlstore.Store, collections []string) (string, error) {
	ddl, err := ExportDDL(cfg, collections)
	if err != nil {
		return "", err
	}
	data, err := ExportData(ctx, store, collections)
	if err != nil {
		return "", err
	}
	return ddl + "\n" + data, nil
}

// RecordToInsert renders one record as an INSERT statement with literal values
func RecordToInsert(collection string, rec cqlstore.Record) string {
	metadata := rec.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	return fmt.Sprintf("INSERT INTO %s (key, value, metadata) VALUES (%s, %s, %s);\n",
		collection,
		cqlstore.QuoteLiteral(rec.Key),
		cqlstore.QuoteLiteral(rec.Value),
		cqlstore.QuoteLiteral(metadata),
	)
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
