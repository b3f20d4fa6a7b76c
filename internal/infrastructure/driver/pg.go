package driver

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// PGWrapper ITransactionalDB on a pgx pool
type PGWrapper struct {
	db *pgxpool.Pool
}

// PGWrapperTx transaction wrapper
type PGWrapperTx struct {
	tx pgx.Tx
}

type PGExecResult struct {
	ct pgconn.CommandTag
}

type PGQueryResult struct {
	rows pgx.Rows
}

var (
	_ ITransactionalDB = &PGWrapper{}
	_ ITransactionalDB = &PGWrapperTx{}
	_ ISQLRows         = &PGQueryResult{}
)

// NewPostgreSQLConn Returns a postgreSQL connection pool
func NewPostgreSQLConn(dsn string, cfg *DBConfig) (ITransactionalDB, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	// the lib will handle logging
	poolConfig.MaxConns = cfg.MaxConn
	conn, err := pgxpool.ConnectConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, err
	}
	return &PGWrapper{conn}, nil
}

func (pr PGExecResult) LastInsertId() (int64, error) {
	return 0, nil
}

func (pr PGExecResult) RowsAffected() (int64, error) {
	return pr.ct.RowsAffected(), nil
}

func (pr PGQueryResult) Next() bool {
	return pr.rows.Next()
}

func (pr PGQueryResult) Scan(dest ...interface{}) (err error) {
	return pr.rows.Scan(dest...)
}

func (pr PGQueryResult) Close() error {
	pr.rows.Close()
	return nil
}

func (pr PGQueryResult) Err() error {
	return pr.rows.Err()
}

func (pw *PGWrapper) BeginTx(ctx context.Context, opts *TxOptions) (ITransactionalDB, error) {
	startTime := time.Now()
	tx, err := pw.db.BeginTx(ctx, pgTxOptionAdapter(opts))
	logSQL(ctx, "BeginTx", "", startTime, err, nil)
	if err != nil {
		return nil, err
	}
	return &PGWrapperTx{tx}, nil
}

func pgTxOptionAdapter(opts *TxOptions) pgx.TxOptions {
	if opts == nil {
		return pgx.TxOptions{}
	}
	iso := pgx.TxIsoLevel(strings.ToLower(opts.Isolation.String()))
	if opts.Isolation == sql.LevelDefault {
		iso = ""
	}

	var access pgx.TxAccessMode
	if opts.AccessMode == AccessReadOnly {
		access = pgx.ReadOnly
	} else {
		access = pgx.ReadWrite
	}

	var deferrable pgx.TxDeferrableMode
	if opts.DeferrableMode == Deferrable {
		deferrable = pgx.Deferrable
	} else {
		deferrable = pgx.NotDeferrable
	}
	return pgx.TxOptions{
		IsoLevel:       iso,
		AccessMode:     access,
		DeferrableMode: deferrable,
	}
}

func (pw *PGWrapper) Commit(ctx context.Context) error {
	return nil
}

func (pw *PGWrapper) Rollback(ctx context.Context) error {
	return nil
}

// Close close the whole pool, you better know what you are doing
func (pw *PGWrapper) Close(ctx context.Context) error {
	pw.db.Close()
	return nil
}

func (pw *PGWrapper) Ping() error {
	return pw.db.Ping(context.Background())
}

func (pw *PGWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	startTime := time.Now()
	query = pgsqlAdapter(query)
	res, err := pw.db.Exec(ctx, query, args...)
	logSQL(ctx, "Exec", query, startTime, err, args)
	return &PGExecResult{res}, err
}

func (pw *PGWrapper) QueryContext(ctx context.Context, query string, args ...interface{}) (ISQLRows, error) {
	startTime := time.Now()
	query = pgsqlAdapter(query)
	rows, err := pw.db.Query(ctx, query, args...)
	logSQL(ctx, "Query", query, startTime, err, args)
	if err != nil {
		return nil, err
	}
	return &PGQueryResult{rows}, nil
}

func (pwt *PGWrapperTx) BeginTx(ctx context.Context, opts *TxOptions) (ITransactionalDB, error) {
	return nil, ErrNestedTx
}

func (pwt *PGWrapperTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	startTime := time.Now()
	query = pgsqlAdapter(query)
	res, err := pwt.tx.Exec(ctx, query, args...)
	logSQL(ctx, "Exec", query, startTime, err, args)
	return &PGExecResult{res}, err
}

func (pwt *PGWrapperTx) QueryContext(ctx context.Context, query string, args ...interface{}) (ISQLRows, error) {
	startTime := time.Now()
	query = pgsqlAdapter(query)
	rows, err := pwt.tx.Query(ctx, query, args...)
	logSQL(ctx, "Query", query, startTime, err, args)
	if err != nil {
		return nil, err
	}
	return &PGQueryResult{rows}, nil
}

func (pwt *PGWrapperTx) Commit(ctx context.Context) error {
	startTime := time.Now()
	err := pwt.tx.Commit(ctx)
	logSQL(ctx, "Commit", "", startTime, err, nil)
	return err
}

func (pwt *PGWrapperTx) Rollback(ctx context.Context) error {
	startTime := time.Now()
	err := pwt.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	logSQL(ctx, "RollBack", "", startTime, err, nil)
	return err
}

func (pwt *PGWrapperTx) Close(ctx context.Context) error {
	return nil
}

func (pwt *PGWrapperTx) Ping() error {
	return nil
}

func pgsqlAdapter(query string) string {
	return strings.TrimSpace(SpacePattern.ReplaceAllString(query, " "))
}
