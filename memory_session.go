package cqlstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryCluster is an in-process stand-in for a CQL cluster. It understands
// exactly the statements this package emits (keyspace and table creation,
// keyed INSERT with optional TTL, SELECT by key, key list or full scan, keyed
// DELETE) and is meant for tests and local development.
//
// TTLs are evaluated against an injectable clock.
type MemoryCluster struct {
	mu         sync.RWMutex
	keyspaces  map[string]map[string]*memTable
	locks      *StripedLocks
	now        func() time.Time
	dials      int
	statements []string
	dialErr    error
	stmtErrs   map[string]error
	hold       chan struct{}
}

type memTable struct {
	rows map[string]memRow
}

type memRow struct {
	value    string
	metadata string
	expires  time.Time // zero means no TTL
}

// NewMemoryCluster creates an empty cluster using the wall clock
func NewMemoryCluster() *MemoryCluster {
	return &MemoryCluster{
		keyspaces: make(map[string]map[string]*memTable),
		locks:     NewStripedLocks(16),
		now:       time.Now,
		stmtErrs:  make(map[string]error),
	}
}

// SetClock replaces the clock used for TTL expiry
func (c *MemoryCluster) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// FailDials makes every subsequent Dial return err (nil clears it)
func (c *MemoryCluster) FailDials(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialErr = err
}

// FailStatements makes statements starting with prefix return err (nil clears it)
func (c *MemoryCluster) FailStatements(prefix string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.stmtErrs, prefix)
		return
	}
	c.stmtErrs[prefix] = err
}

// HoldDials blocks every Dial until the returned release func is called
func (c *MemoryCluster) HoldDials() (release func()) {
	ch := make(chan struct{})
	c.mu.Lock()
	c.hold = ch
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.hold = nil
			c.mu.Unlock()
			close(ch)
		})
	}
}

// DialCount returns how many sessions have been dialed (including failed dials)
func (c *MemoryCluster) DialCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dials
}

// Statements returns every statement executed so far, in order
func (c *MemoryCluster) Statements() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.statements...)
}

// CountStatements returns how many executed statements start with prefix
func (c *MemoryCluster) CountStatements(prefix string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, s := range c.statements {
		if strings.HasPrefix(s, prefix) {
			n++
		}
	}
	return n
}

// HasTable reports whether keyspace.table exists
func (c *MemoryCluster) HasTable(keyspace, table string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.keyspaces[keyspace][table]
	return ok
}

// Dial implements Dialer
func (c *MemoryCluster) Dial(ctx context.Context, keyspace string) (Session, error) {
	c.mu.Lock()
	c.dials++
	hold := c.hold
	c.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.dialErr != nil {
		return nil, c.dialErr
	}
	if keyspace != "" {
		if _, ok := c.keyspaces[keyspace]; !ok {
			return nil, fmt.Errorf("keyspace %q does not exist", keyspace)
		}
	}
	return &memSession{cluster: c, keyspace: keyspace}, nil
}

type memSession struct {
	cluster  *MemoryCluster
	keyspace string

	mu     sync.Mutex
	closed bool
}

func (s *memSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *memSession) check(ctx context.Context, stmt string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("session has been closed")
	}

	c := s.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statements = append(c.statements, stmt)
	for prefix, err := range c.stmtErrs {
		if strings.HasPrefix(stmt, prefix) {
			return err
		}
	}
	return nil
}

func (s *memSession) Exec(ctx context.Context, stmt string, args ...interface{}) error {
	if err := s.check(ctx, stmt); err != nil {
		return err
	}
	if err := checkBindCount(stmt, args); err != nil {
		return err
	}

	tokens := strings.Fields(stmt)
	switch {
	case hasTokens(tokens, "CREATE", "KEYSPACE", "IF", "NOT", "EXISTS"):
		return s.createKeyspace(tokens)
	case hasTokens(tokens, "CREATE", "TABLE", "IF", "NOT", "EXISTS"):
		return s.createTable(tokens)
	case hasTokens(tokens, "INSERT", "INTO"):
		return s.insert(tokens, args)
	case hasTokens(tokens, "DELETE", "FROM"):
		return s.delete(tokens, args)
	default:
		return fmt.Errorf("unsupported statement: %s", stmt)
	}
}

func (s *memSession) Iter(ctx context.Context, stmt string, args ...interface{}) Iter {
	if err := s.check(ctx, stmt); err != nil {
		return &memIter{err: err}
	}
	if err := checkBindCount(stmt, args); err != nil {
		return &memIter{err: err}
	}

	tokens := strings.Fields(stmt)
	if !hasTokens(tokens, "SELECT", "key,", "value,", "metadata", "FROM") || len(tokens) < 6 {
		return &memIter{err: fmt.Errorf("unsupported query: %s", stmt)}
	}

	table, unlock, err := s.table(tokens[5], true)
	if err != nil {
		return &memIter{err: err}
	}
	defer unlock()

	var keys []string
	switch {
	case len(tokens) == 6:
		for k := range table.rows {
			keys = append(keys, k)
		}
	case hasTokens(tokens[6:], "WHERE", "key", "="):
		key, err := stringArg(args, 0)
		if err != nil {
			return &memIter{err: err}
		}
		keys = []string{key}
	case hasTokens(tokens[6:], "WHERE", "key", "IN"):
		for i := range args {
			key, err := stringArg(args, i)
			if err != nil {
				return &memIter{err: err}
			}
			keys = append(keys, key)
		}
	default:
		return &memIter{err: fmt.Errorf("unsupported query: %s", stmt)}
	}
	sort.Strings(keys)

	now := s.cluster.clock()
	seen := make(map[string]bool, len(keys))
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		row, ok := table.rows[k]
		if !ok || seen[k] {
			continue
		}
		seen[k] = true
		if !row.expires.IsZero() && !now.Before(row.expires) {
			continue
		}
		rows = append(rows, []string{k, row.value, row.metadata})
	}
	return &memIter{rows: rows}
}

func (s *memSession) createKeyspace(tokens []string) error {
	if len(tokens) < 8 || tokens[6] != "WITH" {
		return fmt.Errorf("malformed CREATE KEYSPACE")
	}
	if !strings.Contains(strings.Join(tokens[7:], " "), "replication") {
		return fmt.Errorf("missing replication strategy")
	}
	c := s.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.keyspaces[tokens[5]]; !ok {
		c.keyspaces[tokens[5]] = make(map[string]*memTable)
	}
	return nil
}

func (s *memSession) createTable(tokens []string) error {
	if s.keyspace == "" {
		return errors.New("no keyspace has been specified")
	}
	if len(tokens) < 7 {
		return fmt.Errorf("malformed CREATE TABLE")
	}
	c := s.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	ks, ok := c.keyspaces[s.keyspace]
	if !ok {
		return fmt.Errorf("keyspace %q does not exist", s.keyspace)
	}
	if _, ok := ks[tokens[5]]; !ok {
		ks[tokens[5]] = &memTable{rows: make(map[string]memRow)}
	}
	return nil
}

func (s *memSession) insert(tokens []string, args []interface{}) error {
	if len(tokens) < 3 {
		return fmt.Errorf("malformed INSERT")
	}
	key, err := stringArg(args, 0)
	if err != nil {
		return err
	}
	value, err := stringArg(args, 1)
	if err != nil {
		return err
	}
	metadata, err := stringArg(args, 2)
	if err != nil {
		return err
	}

	row := memRow{value: value, metadata: metadata}
	if hasTokens(tokens[len(tokens)-3:], "USING", "TTL", "?") {
		ttl, err := intArg(args, 3)
		if err != nil {
			return err
		}
		if ttl <= 0 {
			return fmt.Errorf("TTL must be greater than 0, got %d", ttl)
		}
		row.expires = s.cluster.clock().Add(time.Duration(ttl) * time.Second)
	}

	table, unlock, err := s.table(tokens[2], false)
	if err != nil {
		return err
	}
	defer unlock()
	table.rows[key] = row
	return nil
}

func (s *memSession) delete(tokens []string, args []interface{}) error {
	if len(tokens) < 3 {
		return fmt.Errorf("malformed DELETE")
	}
	key, err := stringArg(args, 0)
	if err != nil {
		return err
	}
	table, unlock, err := s.table(tokens[2], false)
	if err != nil {
		return err
	}
	defer unlock()
	delete(table.rows, key)
	return nil
}

// table looks up a table in the session keyspace and locks its stripe
func (s *memSession) table(name string, read bool) (*memTable, func(), error) {
	if s.keyspace == "" {
		return nil, nil, errors.New("no keyspace has been specified")
	}
	c := s.cluster
	c.mu.RLock()
	t, ok := c.keyspaces[s.keyspace][name]
	c.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("unconfigured table %s", name)
	}

	lockKey := s.keyspace + "." + name
	if read {
		return t, c.locks.RLock(lockKey), nil
	}
	return t, c.locks.Lock(lockKey), nil
}

func (c *MemoryCluster) clock() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now()
}

type memIter struct {
	rows [][]string
	pos  int
	err  error
}

func (it *memIter) Scan(dest ...interface{}) bool {
	if it.err != nil || it.pos >= len(it.rows) {
		return false
	}
	row := it.rows[it.pos]
	if len(dest) > len(row) {
		it.err = fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(row))
		return false
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = row[i]
		case *[]byte:
			*p = []byte(row[i])
		default:
			it.err = fmt.Errorf("scan: unsupported destination %T", d)
			return false
		}
	}
	it.pos++
	return true
}

func (it *memIter) Close() error {
	return it.err
}

func hasTokens(tokens []string, want ...string) bool {
	if len(tokens) < len(want) {
		return false
	}
	for i, w := range want {
		if tokens[i] != w {
			return false
		}
	}
	return true
}

// checkBindCount rejects statements whose placeholders and arguments disagree
func checkBindCount(stmt string, args []interface{}) error {
	if n := strings.Count(stmt, "?"); n != len(args) {
		return fmt.Errorf("invalid amount of bind variables: expected %d, got %d", n, len(args))
	}
	return nil
}

func stringArg(args []interface{}, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing bind variable %d", i)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("bind variable %d: expected string, got %T", i, args[i])
	}
	return s, nil
}

func intArg(args []interface{}, i int) (int64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing bind variable %d", i)
	}
	switch v := args[i].(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	default:
		return 0, fmt.Errorf("bind variable %d: expected integer, got %T", i, args[i])
	}
}
