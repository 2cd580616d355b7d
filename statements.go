package cqlstore

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// CQL emitted by this package. Identifiers are validated before they reach
// these builders; every value travels as a bind parameter.

func createKeyspaceStmt(namespace string, conf map[string]interface{}) (string, error) {
	props, err := keyspaceProperties(conf)
	if err != nil {
		return "", err
	}
	return "CREATE KEYSPACE IF NOT EXISTS " + namespace + " WITH " + props, nil
}

func createTableStmt(collection string) string {
	return "CREATE TABLE IF NOT EXISTS " + collection + " (key text PRIMARY KEY, value text, metadata text)"
}

func selectAllStmt(collection string) string {
	return "SELECT key, value, metadata FROM " + collection
}

func selectKeyStmt(collection string) string {
	return selectAllStmt(collection) + " WHERE key = ?"
}

// selectInStmt emits one placeholder per key
func selectInStmt(collection string, n int) string {
	var b strings.Builder
	b.WriteString(selectAllStmt(collection))
	b.WriteString(" WHERE key IN (")
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('?')
	}
	b.WriteByte(')')
	return b.String()
}

func insertStmt(collection string, withTTL bool) string {
	stmt := "INSERT INTO " + collection + " (key, value, metadata) VALUES (?, ?, ?)"
	if withTTL {
		stmt += " USING TTL ?"
	}
	return stmt
}

func deleteStmt(collection string) string {
	return "DELETE FROM " + collection + " WHERE key = ?"
}

// KeyspaceDDL returns the CREATE KEYSPACE statement issued for cfg's namespace
func KeyspaceDDL(cfg Config) (string, error) {
	return createKeyspaceStmt(cfg.Namespace, cfg.KeyspaceConf)
}

// TableDDL returns the CREATE TABLE statement issued for a collection
func TableDDL(collection string) (string, error) {
	if err := ValidateCollection(collection); err != nil {
		return "", err
	}
	return createTableStmt(collection), nil
}

// QuoteLiteral renders s as a CQL string literal
func QuoteLiteral(s string) string {
	lit, _ := cqlLiteral(s)
	return lit
}

// keyspaceProperties renders keyspaceconf as CQL properties joined by AND,
// in sorted key order:
//
//	replication = {'class': 'SimpleStrategy', 'replication_factor': 1} AND durable_writes = true
func keyspaceProperties(conf map[string]interface{}) (string, error) {
	if _, ok := conf["replication"]; !ok {
		return "", fmt.Errorf("replication is required")
	}

	names := make([]string, 0, len(conf))
	for name := range conf {
		if !identifierPattern.MatchString(name) {
			return "", fmt.Errorf("invalid keyspace property %q", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		lit, err := cqlLiteral(conf[name])
		if err != nil {
			return "", fmt.Errorf("keyspace property %s: %w", name, err)
		}
		parts = append(parts, name+" = "+lit)
	}
	return strings.Join(parts, " AND "), nil
}

// cqlLiteral renders constants and maps (config files decode to either
// map[string]interface{} or map[interface{}]interface{})
func cqlLiteral(v interface{}) (string, error) {
	switch val := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'", nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		entries := make([]string, 0, len(keys))
		for _, k := range keys {
			lit, err := cqlLiteral(val[k])
			if err != nil {
				return "", err
			}
			entries = append(entries, "'"+strings.ReplaceAll(k, "'", "''")+"': "+lit)
		}
		return "{" + strings.Join(entries, ", ") + "}", nil
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, inner := range val {
			m[fmt.Sprint(k)] = inner
		}
		return cqlLiteral(m)
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}
