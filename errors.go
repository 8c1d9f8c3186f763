package odbc

import (
	"errors"
	"fmt"
	"strings"
)

// define all package level errors here
var (
	ErrLibraryNotLoaded = errors.New("odbc: driver manager library is not loaded")
	ErrAllocation       = errors.New("odbc: handle allocation failed")
	ErrConnect          = errors.New("odbc: connect failed")
	ErrExecution        = errors.New("odbc: execution failed")
	ErrDisconnect       = errors.New("odbc: disconnect failed")
	ErrRelease          = errors.New("odbc: handle release failed")
	ErrTransaction      = errors.New("odbc: transaction failed")
	ErrNative           = errors.New("odbc: native call failed")
	ErrEncoding         = errors.New("odbc: text encoding failed")

	ErrEnvClosed       = errors.New("odbc: environment closed")
	ErrEnvironmentBusy = errors.New("odbc: environment has live connections")
	ErrConnClosed      = errors.New("odbc: connection closed")
	ErrStmtClosed      = errors.New("odbc: statement closed")
	ErrCursorClosed    = errors.New("odbc: cursor closed")
	ErrColumnConsumed  = errors.New("odbc: column already read for the current row")
	ErrConnStrTooLong  = errors.New("odbc: connection string too long")
	ErrArgsUnsupported = errors.New("odbc: statement arguments are not supported")
	ErrTxDone          = errors.New("odbc: transaction done")
)

// ErrorKind classifies a failed native call.
type ErrorKind int

const (
	KindNative ErrorKind = iota
	KindAllocation
	KindConnect
	KindExecution
	KindDisconnect
	KindRelease
	KindTransaction
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindAllocation:
		return ErrAllocation
	case KindConnect:
		return ErrConnect
	case KindExecution:
		return ErrExecution
	case KindDisconnect:
		return ErrDisconnect
	case KindRelease:
		return ErrRelease
	case KindTransaction:
		return ErrTransaction
	default:
		return ErrNative
	}
}

// DiagnosticRecord is one record read with SQLGetDiagRecW.
type DiagnosticRecord struct {
	State      string
	NativeCode int32
	Message    string
}

func (r DiagnosticRecord) String() string {
	return fmt.Sprintf("[%s] (native %d) %s", r.State, r.NativeCode, r.Message)
}

// Error describes a native call which returned an error outcome.
// errors.Is matches it against the sentinel of its Kind.
type Error struct {
	Kind     ErrorKind
	Function string
	Return   SQLRETURN
	Records  []DiagnosticRecord
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("odbc: ")
	b.WriteString(e.Function)
	b.WriteString(" returned ")
	b.WriteString(e.Return.String())
	for i, r := range e.Records {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(r.String())
	}
	return b.String()
}

func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// SQLState returns the state of the first diagnostic record, if any.
func (e *Error) SQLState() string {
	if len(e.Records) == 0 {
		return ""
	}
	return e.Records[0].State
}

// nativeError builds an *Error, reading diagnostics from the handle the call was made on.
func nativeError(kind ErrorKind, function string, ret SQLRETURN, handleType SQLSMALLINT, handle SQLHANDLE) *Error {
	e := &Error{Kind: kind, Function: function, Return: ret}
	// an invalid handle carries no diagnostics
	if ret != SQL_INVALID_HANDLE {
		e.Records = odbc_diagnostics(handleType, handle)
	}
	return e
}

// TeardownError is the panic value raised when a Connection fails to disconnect
// outside of an already failing scope.
type TeardownError struct {
	ConnectionID string
	Err          error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("odbc: unexpected error disconnecting connection %s: %v", e.ConnectionID, e.Err)
}

func (e *TeardownError) Unwrap() error {
	return e.Err
}
