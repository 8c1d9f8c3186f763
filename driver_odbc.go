package odbc

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// define all package level structs here

type odbcDriver struct{}

type odbcDriverConn struct {
	env  *Environment
	conn *Connection
	tx   *odbcDriverTx
}

type odbcDriverStmt struct {
	conn   *odbcDriverConn
	query  string
	closed bool
}

type odbcDriverRows struct {
	cursor  *Cursor
	columns []string
	closed  bool
}

type odbcDriverResult struct {
	rowsAffected int64
}

type odbcDriverTx struct {
	conn *odbcDriverConn
	done bool
}

// register driver
func init() {
	sql.Register("odbc", &odbcDriver{})
}

// Implement sql.Driver methods
func (d *odbcDriver) Open(dsn string) (driver.Conn, error) {
	return openDriverConn(dsn, nil)
}

// openDriverConn creates an Environment and Connection pair owned by one driver connection.
func openDriverConn(dsn string, opts []Option) (*odbcDriverConn, error) {
	env, err := NewEnvironment(opts...)
	if err != nil {
		return nil, err
	}
	conn, err := env.Connect(dsn)
	if err != nil {
		if closeErr := env.Close(); closeErr != nil {
			env.logger.Warn("failed to free environment after connect error", zap.Error(closeErr))
		}
		return nil, err
	}
	return &odbcDriverConn{env: env, conn: conn}, nil
}

// --- driver.Conn and friends ---

// Ensure odbcDriverConn implements required interfaces.
var (
	_ driver.Conn               = (*odbcDriverConn)(nil)
	_ driver.ConnPrepareContext = (*odbcDriverConn)(nil)
	_ driver.ExecerContext      = (*odbcDriverConn)(nil)
	_ driver.QueryerContext     = (*odbcDriverConn)(nil)
	_ driver.Pinger             = (*odbcDriverConn)(nil)
	_ driver.Validator          = (*odbcDriverConn)(nil)
	_ driver.ConnBeginTx        = (*odbcDriverConn)(nil)
)

func (c *odbcDriverConn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

// PrepareContext does not prepare on the data source: every execution of the
// returned statement is a direct execution of query.
func (c *odbcDriverConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	if err := c.conn.checkOpen(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return &odbcDriverStmt{conn: c, query: query}, nil
}

// Close disconnects and frees the environment. database/sql gives Close an error
// result, so a failed disconnect is returned rather than raised.
func (c *odbcDriverConn) Close() error {
	err := c.conn.disconnect()
	if err != nil {
		c.conn.metrics.disconnectFailed("returned")
	}
	if envErr := c.env.Close(); envErr != nil && err == nil {
		err = envErr
	}
	return err
}

func (c *odbcDriverConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *odbcDriverConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if opts.ReadOnly {
		return nil, errors.New("odbc: read-only transactions are not supported")
	}
	if opts.Isolation != driver.IsolationLevel(sql.LevelDefault) {
		return nil, errors.New("odbc: only the default isolation level is supported")
	}
	if c.tx != nil {
		return nil, errors.New("odbc: transaction already in progress")
	}
	if err := c.conn.SetAutocommit(false); err != nil {
		return nil, err
	}
	c.tx = &odbcDriverTx{conn: c}
	return c.tx, nil
}

func (c *odbcDriverConn) Ping(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	dead, err := c.conn.IsDead()
	if err != nil {
		return err
	}
	if dead {
		return driver.ErrBadConn
	}
	return nil
}

// IsValid lets database/sql drop pooled connections which were lost or closed.
func (c *odbcDriverConn) IsValid() bool {
	dead, err := c.conn.IsDead()
	return err == nil && !dead
}

func (c *odbcDriverConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if len(args) > 0 {
		return nil, ErrArgsUnsupported
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	cursor, err := c.conn.ExecDirect(query)
	if err != nil {
		return nil, err
	}
	if cursor == nil {
		return &odbcDriverResult{}, nil
	}
	affected, err := cursor.RowsAffected()
	if closeErr := cursor.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, err
	}
	return &odbcDriverResult{rowsAffected: affected}, nil
}

func (c *odbcDriverConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if len(args) > 0 {
		return nil, ErrArgsUnsupported
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	cursor, err := c.conn.ExecDirect(query)
	if err != nil {
		return nil, err
	}
	// a no-data outcome is an empty row set without columns
	return &odbcDriverRows{cursor: cursor}, nil
}

// --- Connector Pattern ---

// Connector implements driver.Connector and applies Options to every connection.
type Connector struct {
	dsn  string
	opts []Option
}

// NewConnector creates a Connector for an ODBC connection string.
func NewConnector(dsn string, opts ...Option) (*Connector, error) {
	if dsn == "" {
		return nil, errors.New("odbc: empty connection string")
	}
	return &Connector{dsn: dsn, opts: opts}, nil
}

// Connect implements driver.Connector.
func (c *Connector) Connect(ctx context.Context) (driver.Conn, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return openDriverConn(c.dsn, c.opts)
}

// Driver implements driver.Connector.
func (c *Connector) Driver() driver.Driver {
	return &odbcDriver{}
}

// Ensure Connector implements driver.Connector
var _ driver.Connector = (*Connector)(nil)

// --- driver.Stmt and friends ---

// Ensure odbcDriverStmt implements required interfaces.
var (
	_ driver.Stmt             = (*odbcDriverStmt)(nil)
	_ driver.StmtExecContext  = (*odbcDriverStmt)(nil)
	_ driver.StmtQueryContext = (*odbcDriverStmt)(nil)
)

func (s *odbcDriverStmt) Close() error {
	s.closed = true
	return nil
}

// NumInput is 0: parameter markers are not bound by this driver.
func (s *odbcDriverStmt) NumInput() int {
	return 0
}

func (s *odbcDriverStmt) Exec(args []driver.Value) (driver.Result, error) {
	if len(args) > 0 {
		return nil, ErrArgsUnsupported
	}
	return s.ExecContext(context.Background(), nil)
}

func (s *odbcDriverStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	if s.closed {
		return nil, ErrStmtClosed
	}
	return s.conn.ExecContext(ctx, s.query, args)
}

func (s *odbcDriverStmt) Query(args []driver.Value) (driver.Rows, error) {
	if len(args) > 0 {
		return nil, ErrArgsUnsupported
	}
	return s.QueryContext(context.Background(), nil)
}

func (s *odbcDriverStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	if s.closed {
		return nil, ErrStmtClosed
	}
	return s.conn.QueryContext(ctx, s.query, args)
}

// --- driver.Rows ---

// Ensure odbcDriverRows implements the required interface.
var _ driver.Rows = (*odbcDriverRows)(nil)

func (r *odbcDriverRows) Columns() []string {
	if r.columns != nil || r.cursor == nil {
		return r.columns
	}
	cols, err := r.cursor.Columns()
	if err != nil {
		// database/sql has no error channel here; Next reports the failure
		return nil
	}
	r.columns = cols
	return r.columns
}

func (r *odbcDriverRows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.cursor == nil {
		return nil
	}
	return r.cursor.Close()
}

func (r *odbcDriverRows) Next(dest []driver.Value) error {
	if r.closed || r.cursor == nil {
		return io.EOF
	}
	n, err := r.cursor.NumColumns()
	if err != nil {
		return err
	}
	// executed fine, but without a result set to fetch from
	if n == 0 {
		return io.EOF
	}
	ok, err := r.cursor.Next()
	if err != nil {
		return err
	}
	if !ok {
		return io.EOF
	}
	if len(dest) != n {
		return fmt.Errorf("odbc: expected %d dests, got %d", n, len(dest))
	}
	for i := 0; i < n; i++ {
		value, null, err := r.cursor.Get(i)
		if err != nil {
			return err
		}
		if null {
			dest[i] = nil
		} else {
			dest[i] = value
		}
	}
	return nil
}

// --- driver.Result ---

var _ driver.Result = (*odbcDriverResult)(nil)

func (r *odbcDriverResult) LastInsertId() (int64, error) {
	return 0, errors.New("odbc: LastInsertId is not supported")
}

func (r *odbcDriverResult) RowsAffected() (int64, error) {
	return r.rowsAffected, nil
}

// --- driver.Tx ---

var _ driver.Tx = (*odbcDriverTx)(nil)

func (tx *odbcDriverTx) Commit() error {
	return tx.end((*Connection).Commit)
}

func (tx *odbcDriverTx) Rollback() error {
	return tx.end((*Connection).Rollback)
}

func (tx *odbcDriverTx) end(complete func(*Connection) error) error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	tx.conn.tx = nil
	err := complete(tx.conn.conn)
	if autoErr := tx.conn.conn.SetAutocommit(true); autoErr != nil && err == nil {
		err = autoErr
	}
	return err
}
