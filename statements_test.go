package cqlstore

import (
	"strings"
	"testing"
)

func TestSelectInStmtPlaceholders(t *testing.T) {
	for _, n := range []int{1, 2, 5, 100} {
		stmt := selectInStmt("records", n)
		if got := strings.Count(stmt, "?"); got != n {
			t.Errorf("n=%d: %d placeholders in %q", n, got, stmt)
		}
	}

	want := "SELECT key, value, metadata FROM records WHERE key IN (?, ?, ?)"
	if got := selectInStmt("records", 3); got != want {
		t.Errorf("selectInStmt = %q, want %q", got, want)
	}
}

func TestStatementShapes(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"create table", createTableStmt("records"), "CREATE TABLE IF NOT EXISTS records (key text PRIMARY KEY, value text, metadata text)"},
		{"select all", selectAllStmt("records"), "SELECT key, value, metadata FROM records"},
		{"select key", selectKeyStmt("records"), "SELECT key, value, metadata FROM records WHERE key = ?"},
		{"insert", insertStmt("records", false), "INSERT INTO records (key, value, metadata) VALUES (?, ?, ?)"},
		{"insert ttl", insertStmt("records", true), "INSERT INTO records (key, value, metadata) VALUES (?, ?, ?) USING TTL ?"},
		{"delete", deleteStmt("records"), "DELETE FROM records WHERE key = ?"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestCreateKeyspaceStmt(t *testing.T) {
	stmt, err := createKeyspaceStmt("biblionarrator", map[string]interface{}{
		"replication": map[string]interface{}{
			"class":              "SimpleStrategy",
			"replication_factor": 1,
		},
	})
	if err != nil {
		t.Fatalf("createKeyspaceStmt: %v", err)
	}
	want := "CREATE KEYSPACE IF NOT EXISTS biblionarrator WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}"
	if stmt != want {
		t.Errorf("got %q, want %q", stmt, want)
	}

	if _, err := createKeyspaceStmt("ns", map[string]interface{}{}); err == nil {
		t.Error("expected error without replication")
	}
}

func TestKeyspacePropertiesRejectsBadNames(t *testing.T) {
	_, err := keyspaceProperties(map[string]interface{}{
		"replication":      map[string]interface{}{"class": "SimpleStrategy"},
		"x; DROP KEYSPACE": true,
	})
	if err == nil {
		t.Fatal("expected error for invalid property name")
	}
}

func TestCQLLiteral(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{"SimpleStrategy", "'SimpleStrategy'"},
		{"o'brien", "'o''brien'"},
		{true, "true"},
		{3, "3"},
		{int64(7), "7"},
		{0.5, "0.5"},
		{map[interface{}]interface{}{"dc2": 2, "class": "NetworkTopologyStrategy"}, "{'class': 'NetworkTopologyStrategy', 'dc2': 2}"},
	}
	for _, tt := range tests {
		got, err := cqlLiteral(tt.in)
		if err != nil {
			t.Errorf("cqlLiteral(%v): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("cqlLiteral(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := cqlLiteral([]string{"a"}); err == nil {
		t.Error("expected error for unsupported type")
	}
}

func TestExportedDDL(t *testing.T) {
	ddl, err := KeyspaceDDL(DefaultConfig())
	if err != nil {
		t.Fatalf("KeyspaceDDL: %v", err)
	}
	if !strings.HasPrefix(ddl, "CREATE KEYSPACE IF NOT EXISTS biblionarrator WITH replication = ") {
		t.Errorf("KeyspaceDDL = %q", ddl)
	}

	if _, err := TableDDL("bad-name"); err == nil {
		t.Error("expected error for invalid collection")
	}
	table, err := TableDDL("records")
	if err != nil || table != createTableStmt("records") {
		t.Errorf("TableDDL = %q, %v", table, err)
	}

	if got := QuoteLiteral(`it's`); got != `'it''s'` {
		t.Errorf("QuoteLiteral = %q", got)
	}
}
