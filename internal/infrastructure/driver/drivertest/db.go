// Package drivertest scripted in-memory ITransactionalDB for repository tests
package drivertest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/pot-code/elira-progress/internal/infrastructure/driver"
)

// QueryFunc returns the rows of a matched query
type QueryFunc func(args []interface{}) ([][]interface{}, error)

// ExecFunc returns the affected row count of a matched statement
type ExecFunc func(args []interface{}) (int64, error)

type queryHandler struct {
	fragment string
	fn       QueryFunc
}

type execHandler struct {
	fragment string
	fn       ExecFunc
}

// Statement one recorded call
type Statement struct {
	SQL  string
	Args []interface{}
	InTx bool
}

// DB fake connection, handlers are matched by SQL fragment in registration order
type DB struct {
	mu         sync.Mutex
	queries    []queryHandler
	execs      []execHandler
	statements []Statement
	commits    int
	rollbacks  int
	BeginErr   error
}

var _ driver.ITransactionalDB = &DB{}

// New empty fake
func New() *DB {
	return &DB{}
}

// OnQuery answer queries containing fragment with fn
func (db *DB) OnQuery(fragment string, fn QueryFunc) *DB {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.queries = append(db.queries, queryHandler{normalize(fragment), fn})
	return db
}

// OnExec answer statements containing fragment with fn
func (db *DB) OnExec(fragment string, fn ExecFunc) *DB {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.execs = append(db.execs, execHandler{normalize(fragment), fn})
	return db
}

// Statements every call so far
func (db *DB) Statements() []Statement {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]Statement, len(db.statements))
	copy(out, db.statements)
	return out
}

// Executed whether a statement containing fragment ran
func (db *DB) Executed(fragment string) bool {
	fragment = normalize(fragment)
	for _, s := range db.Statements() {
		if strings.Contains(s.SQL, fragment) {
			return true
		}
	}
	return false
}

// Commits number of committed transactions
func (db *DB) Commits() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.commits
}

// Rollbacks number of rolled back transactions
func (db *DB) Rollbacks() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.rollbacks
}

func normalize(query string) string {
	return strings.TrimSpace(driver.SpacePattern.ReplaceAllString(query, " "))
}

func (db *DB) record(query string, args []interface{}, inTx bool) string {
	q := normalize(query)
	db.mu.Lock()
	db.statements = append(db.statements, Statement{SQL: q, Args: args, InTx: inTx})
	db.mu.Unlock()
	return q
}

func (db *DB) query(query string, args []interface{}, inTx bool) (driver.ISQLRows, error) {
	q := db.record(query, args, inTx)
	db.mu.Lock()
	handlers := db.queries
	db.mu.Unlock()
	for _, h := range handlers {
		if strings.Contains(q, h.fragment) {
			data, err := h.fn(args)
			if err != nil {
				return nil, err
			}
			return &Rows{data: data, index: -1}, nil
		}
	}
	return &Rows{index: -1}, nil
}

func (db *DB) exec(query string, args []interface{}, inTx bool) (sql.Result, error) {
	q := db.record(query, args, inTx)
	db.mu.Lock()
	handlers := db.execs
	db.mu.Unlock()
	for _, h := range handlers {
		if strings.Contains(q, h.fragment) {
			n, err := h.fn(args)
			if err != nil {
				return nil, err
			}
			return Result(n), nil
		}
	}
	return Result(1), nil
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return db.exec(query, args, false)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (driver.ISQLRows, error) {
	return db.query(query, args, false)
}

func (db *DB) BeginTx(ctx context.Context, opts *driver.TxOptions) (driver.ITransactionalDB, error) {
	if db.BeginErr != nil {
		return nil, db.BeginErr
	}
	return &Tx{db: db}, nil
}

func (db *DB) Commit(ctx context.Context) error {
	return nil
}

func (db *DB) Rollback(ctx context.Context) error {
	return nil
}

func (db *DB) Close(ctx context.Context) error {
	return nil
}

func (db *DB) Ping() error {
	return nil
}

// Tx transaction of a fake DB
type Tx struct {
	db   *DB
	done bool
}

var _ driver.ITransactionalDB = &Tx{}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return tx.db.exec(query, args, true)
}

func (tx *Tx) QueryContext(ctx context.Context, query string, args ...interface{}) (driver.ISQLRows, error) {
	return tx.db.query(query, args, true)
}

func (tx *Tx) BeginTx(ctx context.Context, opts *driver.TxOptions) (driver.ITransactionalDB, error) {
	return nil, driver.ErrNestedTx
}

func (tx *Tx) Commit(ctx context.Context) error {
	if tx.done {
		return errors.New("transaction already done")
	}
	tx.done = true
	tx.db.mu.Lock()
	tx.db.commits++
	tx.db.mu.Unlock()
	return nil
}

func (tx *Tx) Rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.db.mu.Lock()
	tx.db.rollbacks++
	tx.db.mu.Unlock()
	return nil
}

func (tx *Tx) Close(ctx context.Context) error {
	return nil
}

func (tx *Tx) Ping() error {
	return nil
}

// Result affected row count
type Result int64

func (r Result) LastInsertId() (int64, error) {
	return 0, errors.New("LastInsertId is not supported")
}

func (r Result) RowsAffected() (int64, error) {
	return int64(r), nil
}

// Rows scripted result set
type Rows struct {
	data  [][]interface{}
	index int
}

func (r *Rows) Next() bool {
	r.index++
	return r.index < len(r.data)
}

// Scan assign the current row to dest, nil values leave the zero value
func (r *Rows) Scan(dest ...interface{}) error {
	if r.index < 0 || r.index >= len(r.data) {
		return errors.New("scan called without a current row")
	}
	row := r.data[r.index]
	if len(row) != len(dest) {
		return fmt.Errorf("expected %d destination arguments in Scan, not %d", len(row), len(dest))
	}
	for i, v := range row {
		target := reflect.ValueOf(dest[i])
		if target.Kind() != reflect.Ptr || target.IsNil() {
			return fmt.Errorf("destination %d is not a pointer", i)
		}
		elem := target.Elem()
		if v == nil {
			elem.Set(reflect.Zero(elem.Type()))
			continue
		}
		src := reflect.ValueOf(v)
		if !src.Type().ConvertibleTo(elem.Type()) {
			return fmt.Errorf("column %d: cannot convert %T into %s", i, v, elem.Type())
		}
		elem.Set(src.Convert(elem.Type()))
	}
	return nil
}

func (r *Rows) Close() error {
	return nil
}

func (r *Rows) Err() error {
	return nil
}
