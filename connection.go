package odbc

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type connState int

const (
	stateConnected connState = iota
	stateDisconnecting
	stateDisconnected
)

// Connection owns one connected ODBC connection handle.
//
// A Connection and the statements and cursors derived from it must not be used
// from multiple goroutines at the same time; callers serialize access. No locks
// are taken on this path.
//
// The connection is torn down exactly once by Close or Release, which are meant
// to be deferred right after a successful Connect:
//
//	conn, err := env.Connect(dsn)
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
type Connection struct {
	id     uuid.UUID
	env    *Environment
	handle SQLHANDLE
	state  connState

	// statements allocated from this connection and not yet released
	statements map[*Statement]struct{}

	logger  *zap.Logger
	metrics *Metrics
}

func newConnection(env *Environment, handle SQLHANDLE) *Connection {
	id := uuid.New()
	return &Connection{
		id:         id,
		env:        env,
		handle:     handle,
		state:      stateConnected,
		statements: make(map[*Statement]struct{}),
		logger:     env.logger.With(zap.String("connection_id", id.String())),
		metrics:    env.opts.metrics,
	}
}

// ID identifies the connection in logs and teardown errors.
func (c *Connection) ID() string {
	return c.id.String()
}

// ExecDirect executes query once, without a prepare step. This is the fastest way
// to submit a statement for one-time execution.
//
// A non-nil Cursor is returned when the statement produced a result set; note that
// a result set with zero rows still produces a Cursor. A nil Cursor with a nil
// error means the driver reported SQL_NO_DATA and nothing is left to consume.
func (c *Connection) ExecDirect(query string) (*Cursor, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	wide, err := encodeUTF16(query)
	if err != nil {
		return nil, err
	}
	return c.ExecDirectUTF16(wide)
}

// ExecDirectUTF16 is ExecDirect for text already encoded as UTF-16 code units.
func (c *Connection) ExecDirectUTF16(query []uint16) (*Cursor, error) {
	stmt, err := c.allocateStatement()
	if err != nil {
		return nil, err
	}
	hasCursor, err := stmt.execDirect(query)
	if err != nil {
		c.metrics.executed("error")
		if relErr := stmt.release(); relErr != nil {
			c.logger.Warn("statement release failed after execution error", zap.Error(relErr))
		}
		return nil, err
	}
	if !hasCursor {
		c.metrics.executed("no_data")
		c.logger.Debug("exec direct returned no data")
		if err := stmt.release(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	c.metrics.executed("cursor")
	return newCursor(stmt), nil
}

// SetAutocommit switches the connection between autocommit and manual commit mode.
func (c *Connection) SetAutocommit(enabled bool) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	value := SQL_AUTOCOMMIT_OFF
	if enabled {
		value = SQL_AUTOCOMMIT_ON
	}
	if ret := odbc_set_connect_attr(c.handle, SQL_ATTR_AUTOCOMMIT, value); !IsSuccess(ret) {
		return nativeError(KindTransaction, "SQLSetConnectAttrW(AUTOCOMMIT)", ret, SQL_HANDLE_DBC, c.handle)
	}
	return nil
}

// Commit commits the current transaction. Only meaningful with autocommit off.
func (c *Connection) Commit() error {
	return c.endTran(SQL_COMMIT, "SQLEndTran(COMMIT)")
}

// Rollback rolls back the current transaction. Only meaningful with autocommit off.
func (c *Connection) Rollback() error {
	return c.endTran(SQL_ROLLBACK, "SQLEndTran(ROLLBACK)")
}

// IsDead asks the driver whether the connection to the data source was lost.
// It never sends a query to the data source.
func (c *Connection) IsDead() (bool, error) {
	if err := c.checkOpen(); err != nil {
		return true, err
	}
	value, ret := odbc_get_connect_attr(c.handle, SQL_ATTR_CONNECTION_DEAD)
	if !IsSuccess(ret) {
		return false, nativeError(KindNative, "SQLGetConnectAttrW(CONNECTION_DEAD)", ret, SQL_HANDLE_DBC, c.handle)
	}
	return value == SQL_CD_TRUE, nil
}

// Close disconnects the connection. Only the first call has any effect.
//
// If the disconnect fails while the calling goroutine is already panicking, the
// error is logged and the original panic continues unchanged. Otherwise Close
// panics with a *TeardownError: a connection which cannot be disconnected leaves
// the driver in an unknown state.
//
// Close observes a panic only when it is itself the deferred call, as in
// defer conn.Close(). Called from inside another deferred function it cannot see
// the panic, and a failed disconnect replaces the original panic value. Use
// CloseFailing from such wrappers.
func (c *Connection) Close() {
	r := recover()
	c.teardown(r != nil)
	if r != nil {
		panic(r)
	}
}

// Release is Close for functions with a named error result. A non-nil *errp
// counts as an already failing scope, so a disconnect error is logged instead of
// raised:
//
//	func load(env *odbc.Environment) (err error) {
//		conn, err := env.Connect(dsn)
//		if err != nil {
//			return err
//		}
//		defer conn.Release(&err)
//		...
//	}
//
// Like Close, Release only observes a panic when it is itself the deferred call.
func (c *Connection) Release(errp *error) {
	r := recover()
	c.teardown(r != nil || (errp != nil && *errp != nil))
	if r != nil {
		panic(r)
	}
}

// CloseFailing disconnects with the failure state supplied by the caller. With
// failing set, a disconnect error is logged; otherwise it panics with a
// *TeardownError. It works from any call depth:
//
//	defer func() {
//		r := recover()
//		conn.CloseFailing(r != nil)
//		if r != nil {
//			panic(r)
//		}
//	}()
func (c *Connection) CloseFailing(failing bool) {
	c.teardown(failing)
}

func (c *Connection) teardown(failing bool) {
	err := c.disconnect()
	if err == nil {
		return
	}
	if failing {
		c.metrics.disconnectFailed("suppressed")
		c.logger.Warn("disconnect failed while another failure is in progress", zap.Error(err))
		return
	}
	c.metrics.disconnectFailed("fatal")
	panic(&TeardownError{ConnectionID: c.id.String(), Err: err})
}

// disconnect moves the connection from Connected through Disconnecting to
// Disconnected, releasing live statements before the connection handle.
// Calls after the first one return nil without touching the driver.
func (c *Connection) disconnect() error {
	if c.state != stateConnected {
		return nil
	}
	c.state = stateDisconnecting
	for stmt := range c.statements {
		if err := stmt.release(); err != nil {
			c.logger.Warn("statement release failed during disconnect", zap.Error(err))
		}
	}
	var err error
	if ret := odbc_disconnect(c.handle); !IsSuccess(ret) {
		err = nativeError(KindDisconnect, "SQLDisconnect", ret, SQL_HANDLE_DBC, c.handle)
	}
	if relErr := c.env.releaseConnection(c.handle); relErr != nil && err == nil {
		err = relErr
	}
	c.handle = SQL_NULL_HANDLE
	c.state = stateDisconnected
	c.logger.Debug("disconnected", zap.Error(err))
	return err
}

func (c *Connection) checkOpen() error {
	if c.state != stateConnected {
		return ErrConnClosed
	}
	return nil
}

func (c *Connection) allocateStatement() (*Statement, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	h, ret := odbc_alloc_handle(SQL_HANDLE_STMT, c.handle)
	if !IsSuccess(ret) {
		return nil, nativeError(KindAllocation, "SQLAllocHandle(STMT)", ret, SQL_HANDLE_DBC, c.handle)
	}
	c.metrics.allocated(kindStatement)
	stmt := &Statement{conn: c, handle: h}
	c.statements[stmt] = struct{}{}
	return stmt, nil
}

func (c *Connection) endTran(completion SQLSMALLINT, function string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if ret := odbc_end_tran(c.handle, completion); !IsSuccess(ret) {
		return nativeError(KindTransaction, function, ret, SQL_HANDLE_DBC, c.handle)
	}
	return nil
}
