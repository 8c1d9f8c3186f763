package odbc

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Environment owns the ODBC environment handle that connections are allocated from.
// It is the only type in this package that is safe for concurrent use.
type Environment struct {
	handle SQLHANDLE
	opts   options
	logger *zap.Logger

	mu          sync.Mutex
	connections int
	closed      bool
}

// NewEnvironment loads the driver manager if needed, allocates an environment
// handle and declares ODBC 3 behaviour on it.
func NewEnvironment(opts ...Option) (*Environment, error) {
	o := newOptions(opts)
	if err := InitLibrary(o.library); err != nil {
		return nil, err
	}
	h, ret := odbc_alloc_handle(SQL_HANDLE_ENV, SQL_NULL_HANDLE)
	if !IsSuccess(ret) {
		// there is no handle to read diagnostics from yet
		return nil, &Error{Kind: KindAllocation, Function: "SQLAllocHandle(ENV)", Return: ret}
	}
	o.metrics.allocated(kindEnvironment)
	if ret := odbc_set_odbc3(h); !IsSuccess(ret) {
		err := nativeError(KindNative, "SQLSetEnvAttr", ret, SQL_HANDLE_ENV, h)
		if IsSuccess(odbc_free_handle(SQL_HANDLE_ENV, h)) {
			o.metrics.released(kindEnvironment)
		}
		return nil, err
	}
	return &Environment{
		handle: h,
		opts:   o,
		logger: o.logger,
	}, nil
}

// Connect allocates a connection handle and connects it using an ODBC connection
// string such as "DSN=warehouse;UID=reader;PWD=secret". The driver is never allowed
// to prompt.
func (e *Environment) Connect(connectionString string) (*Connection, error) {
	connStr, err := encodeUTF16(connectionString)
	if err != nil {
		return nil, err
	}
	// SQLDriverConnectW takes the length as SQLSMALLINT
	if len(connStr) > math.MaxInt16 {
		return nil, fmt.Errorf("%w: %d UTF-16 code units, at most %d are accepted",
			ErrConnStrTooLong, len(connStr), math.MaxInt16)
	}
	h, err := e.allocateConnection()
	if err != nil {
		return nil, err
	}
	if e.opts.loginTimeout > 0 {
		secs := (e.opts.loginTimeout + time.Second - 1) / time.Second
		if ret := odbc_set_connect_attr(h, SQL_ATTR_LOGIN_TIMEOUT, uintptr(secs)); !IsSuccess(ret) {
			err := nativeError(KindConnect, "SQLSetConnectAttrW(LOGIN_TIMEOUT)", ret, SQL_HANDLE_DBC, h)
			e.discardConnection(h)
			return nil, err
		}
	}
	if ret := odbc_driver_connect(h, connStr); !IsSuccess(ret) {
		err := nativeError(KindConnect, "SQLDriverConnectW", ret, SQL_HANDLE_DBC, h)
		e.discardConnection(h)
		return nil, err
	}
	c := newConnection(e, h)
	c.logger.Debug("connected")
	return c, nil
}

// Close frees the environment handle. It fails with ErrEnvironmentBusy while
// connections created from e have not been torn down. Closing twice is a no-op.
func (e *Environment) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	if e.connections > 0 {
		return ErrEnvironmentBusy
	}
	if ret := odbc_free_handle(SQL_HANDLE_ENV, e.handle); !IsSuccess(ret) {
		return nativeError(KindRelease, "SQLFreeHandle(ENV)", ret, SQL_HANDLE_ENV, e.handle)
	}
	e.opts.metrics.released(kindEnvironment)
	e.closed = true
	e.handle = SQL_NULL_HANDLE
	return nil
}

func (e *Environment) allocateConnection() (SQLHANDLE, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return SQL_NULL_HANDLE, ErrEnvClosed
	}
	h, ret := odbc_alloc_handle(SQL_HANDLE_DBC, e.handle)
	if !IsSuccess(ret) {
		return SQL_NULL_HANDLE, nativeError(KindAllocation, "SQLAllocHandle(DBC)", ret, SQL_HANDLE_ENV, e.handle)
	}
	e.connections++
	e.opts.metrics.allocated(kindConnection)
	return h, nil
}

// releaseConnection frees a connection handle. The handle is forgotten even when
// the driver refuses to free it; it is never passed to the driver again.
func (e *Environment) releaseConnection(h SQLHANDLE) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connections--
	if ret := odbc_free_handle(SQL_HANDLE_DBC, h); !IsSuccess(ret) {
		return nativeError(KindRelease, "SQLFreeHandle(DBC)", ret, SQL_HANDLE_DBC, h)
	}
	e.opts.metrics.released(kindConnection)
	return nil
}

// discardConnection frees a handle that never became a Connection.
func (e *Environment) discardConnection(h SQLHANDLE) {
	if err := e.releaseConnection(h); err != nil {
		e.logger.Warn("failed to free connection handle after connect error", zap.Error(err))
	}
}
