package odbc

import (
	"fmt"
	"strconv"
	"unsafe"

	"github.com/ebitengine/purego"
)

// define all necessary ODBC types first
type SQLHANDLE uintptr
type SQLSMALLINT int16
type SQLUSMALLINT uint16
type SQLINTEGER int32
type SQLLEN int64
type SQLULEN uint64
type SQLRETURN SQLSMALLINT

// note, that only SUCCESS, SUCCESS_WITH_INFO and NO_DATA are statuses - everything else is an error
const (
	SQL_SUCCESS           SQLRETURN = 0
	SQL_SUCCESS_WITH_INFO SQLRETURN = 1
	SQL_STILL_EXECUTING   SQLRETURN = 2
	SQL_NEED_DATA         SQLRETURN = 99
	SQL_NO_DATA           SQLRETURN = 100
	SQL_ERROR             SQLRETURN = -1
	SQL_INVALID_HANDLE    SQLRETURN = -2
)

func (r SQLRETURN) String() string {
	switch r {
	case SQL_SUCCESS:
		return "SQL_SUCCESS"
	case SQL_SUCCESS_WITH_INFO:
		return "SQL_SUCCESS_WITH_INFO"
	case SQL_STILL_EXECUTING:
		return "SQL_STILL_EXECUTING"
	case SQL_NEED_DATA:
		return "SQL_NEED_DATA"
	case SQL_NO_DATA:
		return "SQL_NO_DATA"
	case SQL_ERROR:
		return "SQL_ERROR"
	case SQL_INVALID_HANDLE:
		return "SQL_INVALID_HANDLE"
	default:
		return "SQLRETURN(" + strconv.Itoa(int(r)) + ")"
	}
}

// handle kinds
const (
	SQL_HANDLE_ENV  SQLSMALLINT = 1
	SQL_HANDLE_DBC  SQLSMALLINT = 2
	SQL_HANDLE_STMT SQLSMALLINT = 3
)

const SQL_NULL_HANDLE SQLHANDLE = 0

// environment and connection attributes
const (
	SQL_ATTR_ODBC_VERSION    SQLINTEGER = 200
	SQL_ATTR_AUTOCOMMIT      SQLINTEGER = 102
	SQL_ATTR_LOGIN_TIMEOUT   SQLINTEGER = 103
	SQL_ATTR_CONNECTION_DEAD SQLINTEGER = 1209
	SQL_IS_UINTEGER          SQLINTEGER = -5
	SQL_IS_INTEGER           SQLINTEGER = -6
	SQL_CD_TRUE              SQLINTEGER = 1
)

const (
	SQL_OV_ODBC3       uintptr = 3
	SQL_AUTOCOMMIT_OFF uintptr = 0
	SQL_AUTOCOMMIT_ON  uintptr = 1
)

const SQL_DRIVER_NOPROMPT SQLUSMALLINT = 0

// transaction completion
const (
	SQL_COMMIT   SQLSMALLINT = 0
	SQL_ROLLBACK SQLSMALLINT = 1
)

const (
	SQL_C_WCHAR  SQLSMALLINT = -8
	SQL_NULLABLE SQLSMALLINT = 1
)

// length indicators
const (
	SQL_NULL_DATA SQLLEN = -1
	SQL_NO_TOTAL  SQLLEN = -4
)

// define C extern methods
var (
	c_SQLAllocHandle func(
		handleType SQLSMALLINT,
		input SQLHANDLE,
		output unsafe.Pointer, // SQLHANDLE*
	) SQLRETURN

	c_SQLFreeHandle func(
		handleType SQLSMALLINT,
		handle SQLHANDLE,
	) SQLRETURN

	c_SQLSetEnvAttr func(
		env SQLHANDLE,
		attribute SQLINTEGER,
		value uintptr, // SQLPOINTER
		length SQLINTEGER,
	) SQLRETURN

	c_SQLDriverConnectW func(
		dbc SQLHANDLE,
		hwnd uintptr,
		in unsafe.Pointer, // SQLWCHAR*
		inLen SQLSMALLINT,
		out unsafe.Pointer, // SQLWCHAR*
		outMax SQLSMALLINT,
		outLen unsafe.Pointer, // SQLSMALLINT*
		completion SQLUSMALLINT,
	) SQLRETURN

	c_SQLDisconnect func(
		dbc SQLHANDLE,
	) SQLRETURN

	c_SQLSetConnectAttrW func(
		dbc SQLHANDLE,
		attribute SQLINTEGER,
		value uintptr, // SQLPOINTER
		length SQLINTEGER,
	) SQLRETURN

	c_SQLGetConnectAttrW func(
		dbc SQLHANDLE,
		attribute SQLINTEGER,
		value unsafe.Pointer, // SQLPOINTER
		bufLen SQLINTEGER,
		strLen unsafe.Pointer, // SQLINTEGER*
	) SQLRETURN

	c_SQLEndTran func(
		handleType SQLSMALLINT,
		handle SQLHANDLE,
		completion SQLSMALLINT,
	) SQLRETURN

	c_SQLExecDirectW func(
		stmt SQLHANDLE,
		text unsafe.Pointer, // SQLWCHAR*
		length SQLINTEGER,
	) SQLRETURN

	c_SQLNumResultCols func(
		stmt SQLHANDLE,
		count unsafe.Pointer, // SQLSMALLINT*
	) SQLRETURN

	c_SQLDescribeColW func(
		stmt SQLHANDLE,
		column SQLUSMALLINT,
		name unsafe.Pointer, // SQLWCHAR*
		bufLen SQLSMALLINT,
		nameLen unsafe.Pointer, // SQLSMALLINT*
		dataType unsafe.Pointer, // SQLSMALLINT*
		columnSize unsafe.Pointer, // SQLULEN*
		decimalDigits unsafe.Pointer, // SQLSMALLINT*
		nullable unsafe.Pointer, // SQLSMALLINT*
	) SQLRETURN

	c_SQLFetch func(
		stmt SQLHANDLE,
	) SQLRETURN

	c_SQLGetData func(
		stmt SQLHANDLE,
		column SQLUSMALLINT,
		targetType SQLSMALLINT,
		target unsafe.Pointer, // SQLPOINTER
		bufLen SQLLEN,
		indicator unsafe.Pointer, // SQLLEN*
	) SQLRETURN

	c_SQLRowCount func(
		stmt SQLHANDLE,
		count unsafe.Pointer, // SQLLEN*
	) SQLRETURN

	c_SQLGetDiagRecW func(
		handleType SQLSMALLINT,
		handle SQLHANDLE,
		record SQLSMALLINT,
		state unsafe.Pointer, // SQLWCHAR[6]
		native unsafe.Pointer, // SQLINTEGER*
		message unsafe.Pointer, // SQLWCHAR*
		bufLen SQLSMALLINT,
		textLen unsafe.Pointer, // SQLSMALLINT*
	) SQLRETURN
)

// odbcSymbols binds every c_SQL* variable to the entry point it is registered from
var odbcSymbols = []struct {
	fptr any
	name string
}{
	{&c_SQLAllocHandle, "SQLAllocHandle"},
	{&c_SQLFreeHandle, "SQLFreeHandle"},
	{&c_SQLSetEnvAttr, "SQLSetEnvAttr"},
	{&c_SQLDriverConnectW, "SQLDriverConnectW"},
	{&c_SQLDisconnect, "SQLDisconnect"},
	{&c_SQLSetConnectAttrW, "SQLSetConnectAttrW"},
	{&c_SQLGetConnectAttrW, "SQLGetConnectAttrW"},
	{&c_SQLEndTran, "SQLEndTran"},
	{&c_SQLExecDirectW, "SQLExecDirectW"},
	{&c_SQLNumResultCols, "SQLNumResultCols"},
	{&c_SQLDescribeColW, "SQLDescribeColW"},
	{&c_SQLFetch, "SQLFetch"},
	{&c_SQLGetData, "SQLGetData"},
	{&c_SQLRowCount, "SQLRowCount"},
	{&c_SQLGetDiagRecW, "SQLGetDiagRecW"},
}

// missing_odbc_symbol returns the first entry point the library does not export.
// purego.RegisterLibFunc panics on a missing symbol, so every library is checked first.
func missing_odbc_symbol(handle uintptr) (string, bool) {
	for _, sym := range odbcSymbols {
		if !hasSymbol(handle, sym.name) {
			return sym.name, true
		}
	}
	return "", false
}

// register extern methods from the loaded driver manager
// DO NOT load lib here - InitLibrary does that
func register_odbc(handle uintptr) error {
	if name, missing := missing_odbc_symbol(handle); missing {
		return fmt.Errorf("%w: missing symbol %s", ErrLibraryNotLoaded, name)
	}
	for _, sym := range odbcSymbols {
		purego.RegisterLibFunc(sym.fptr, handle, sym.name)
	}
	return nil
}

// Helpers

// outcome is the three-way result space of every wrapped native call.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeNoData
	outcomeError
)

func classify(ret SQLRETURN) outcome {
	switch ret {
	case SQL_SUCCESS, SQL_SUCCESS_WITH_INFO:
		return outcomeSuccess
	case SQL_NO_DATA:
		return outcomeNoData
	default:
		return outcomeError
	}
}

// IsSuccess reports whether ret is SQL_SUCCESS or SQL_SUCCESS_WITH_INFO.
func IsSuccess(ret SQLRETURN) bool {
	return classify(ret) == outcomeSuccess
}

// wcharPtr returns a pointer to the first code unit, or nil for empty text.
func wcharPtr(s []uint16) unsafe.Pointer {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Pointer(&s[0])
}

// Go wrappers over imported C bindings

/** Allocate a handle of the given kind under the input handle */
func odbc_alloc_handle(handleType SQLSMALLINT, input SQLHANDLE) (SQLHANDLE, SQLRETURN) {
	var out SQLHANDLE
	ret := c_SQLAllocHandle(handleType, input, unsafe.Pointer(&out))
	return out, ret
}

/** Free a handle
 * SAFETY: caller must ensure that no other code can concurrently or later use the freed handle
 */
func odbc_free_handle(handleType SQLSMALLINT, handle SQLHANDLE) SQLRETURN {
	return c_SQLFreeHandle(handleType, handle)
}

/** Declare ODBC 3 behaviour on the environment */
func odbc_set_odbc3(env SQLHANDLE) SQLRETURN {
	return c_SQLSetEnvAttr(env, SQL_ATTR_ODBC_VERSION, SQL_OV_ODBC3, 0)
}

/** Connect with a driver connection string without prompting */
func odbc_driver_connect(dbc SQLHANDLE, connStr []uint16) SQLRETURN {
	return c_SQLDriverConnectW(
		dbc,
		0,
		wcharPtr(connStr),
		SQLSMALLINT(len(connStr)),
		nil,
		0,
		nil,
		SQL_DRIVER_NOPROMPT,
	)
}

/** Disconnect the connection; the handle itself stays allocated */
func odbc_disconnect(dbc SQLHANDLE) SQLRETURN {
	return c_SQLDisconnect(dbc)
}

/** Set an integer connection attribute */
func odbc_set_connect_attr(dbc SQLHANDLE, attribute SQLINTEGER, value uintptr) SQLRETURN {
	return c_SQLSetConnectAttrW(dbc, attribute, value, SQL_IS_UINTEGER)
}

/** Read an integer connection attribute */
func odbc_get_connect_attr(dbc SQLHANDLE, attribute SQLINTEGER) (SQLINTEGER, SQLRETURN) {
	var value SQLINTEGER
	ret := c_SQLGetConnectAttrW(dbc, attribute, unsafe.Pointer(&value), SQL_IS_INTEGER, nil)
	return value, ret
}

/** Commit or roll back the connection's transaction */
func odbc_end_tran(dbc SQLHANDLE, completion SQLSMALLINT) SQLRETURN {
	return c_SQLEndTran(SQL_HANDLE_DBC, dbc, completion)
}

/** Execute statement text once, without a prepare step */
func odbc_exec_direct(stmt SQLHANDLE, text []uint16) SQLRETURN {
	return c_SQLExecDirectW(stmt, wcharPtr(text), SQLINTEGER(len(text)))
}

/** Number of columns in the current result set; 0 when there is none */
func odbc_num_result_cols(stmt SQLHANDLE) (int, SQLRETURN) {
	var n SQLSMALLINT
	ret := c_SQLNumResultCols(stmt, unsafe.Pointer(&n))
	return int(n), ret
}

/** Describe a result column (1-based) */
func odbc_describe_col(stmt SQLHANDLE, column int) (ColumnDescription, SQLRETURN) {
	var (
		desc     ColumnDescription
		nameLen  SQLSMALLINT
		dataType SQLSMALLINT
		size     SQLULEN
		digits   SQLSMALLINT
		nullable SQLSMALLINT
	)
	name := make([]uint16, 128)
	for {
		ret := c_SQLDescribeColW(
			stmt,
			SQLUSMALLINT(column),
			unsafe.Pointer(&name[0]),
			SQLSMALLINT(len(name)),
			unsafe.Pointer(&nameLen),
			unsafe.Pointer(&dataType),
			unsafe.Pointer(&size),
			unsafe.Pointer(&digits),
			unsafe.Pointer(&nullable),
		)
		if !IsSuccess(ret) {
			return desc, ret
		}
		// name was truncated: grow to the reported length plus terminator
		if int(nameLen) >= len(name) {
			name = make([]uint16, int(nameLen)+1)
			continue
		}
		desc.Name = decodeUTF16(name[:nameLen])
		desc.DataType = dataType
		desc.Size = uint64(size)
		desc.DecimalDigits = int16(digits)
		desc.Nullable = nullable == SQL_NULLABLE
		return desc, ret
	}
}

/** Advance the cursor to the next row */
func odbc_fetch(stmt SQLHANDLE) SQLRETURN {
	return c_SQLFetch(stmt)
}

// getDataChunk is the buffer size, in code units, used for SQLGetData.
const getDataChunk = 512

/** Read a column (1-based) of the current row as text
 * Long values are read in chunks until the driver reports SQL_NO_DATA or a final chunk.
 * The value is length-delimited by the indicator, so embedded NULs are kept.
 * SQL_NO_DATA is returned when the column was already consumed for this row.
 */
func odbc_get_text(stmt SQLHANDLE, column int) (string, bool, SQLRETURN) {
	buf := make([]uint16, getDataChunk)
	var out []uint16
	for reads := 0; ; reads++ {
		var ind SQLLEN
		ret := c_SQLGetData(
			stmt,
			SQLUSMALLINT(column),
			SQL_C_WCHAR,
			unsafe.Pointer(&buf[0]),
			SQLLEN(len(buf)*2),
			unsafe.Pointer(&ind),
		)
		switch classify(ret) {
		case outcomeNoData:
			// nothing at all left means the column was already read for this row
			if reads == 0 {
				return "", false, SQL_NO_DATA
			}
			return decodeUTF16Units(out), false, SQL_SUCCESS
		case outcomeError:
			return "", false, ret
		}
		if ind == SQL_NULL_DATA {
			return "", true, ret
		}
		// the last code unit of a full buffer is always the terminator
		if ret == SQL_SUCCESS_WITH_INFO && (ind == SQL_NO_TOTAL || int(ind) > (len(buf)-1)*2) {
			out = append(out, buf[:len(buf)-1]...)
			continue
		}
		out = append(out, buf[:int(ind)/2]...)
		return decodeUTF16Units(out), false, ret
	}
}

/** Rows affected by the executed statement, -1 if unknown */
func odbc_row_count(stmt SQLHANDLE) (int64, SQLRETURN) {
	var n SQLLEN
	ret := c_SQLRowCount(stmt, unsafe.Pointer(&n))
	return int64(n), ret
}

/** Collect all diagnostic records attached to the handle */
func odbc_diagnostics(handleType SQLSMALLINT, handle SQLHANDLE) []DiagnosticRecord {
	if handle == SQL_NULL_HANDLE {
		return nil
	}
	var records []DiagnosticRecord
	msg := make([]uint16, 256)
	for rec := SQLSMALLINT(1); ; rec++ {
		var (
			state   [6]uint16
			native  SQLINTEGER
			textLen SQLSMALLINT
		)
		ret := c_SQLGetDiagRecW(
			handleType,
			handle,
			rec,
			unsafe.Pointer(&state[0]),
			unsafe.Pointer(&native),
			unsafe.Pointer(&msg[0]),
			SQLSMALLINT(len(msg)),
			unsafe.Pointer(&textLen),
		)
		if !IsSuccess(ret) {
			return records
		}
		// message was truncated: grow and read the same record again
		if int(textLen) >= len(msg) {
			msg = make([]uint16, int(textLen)+1)
			rec--
			continue
		}
		records = append(records, DiagnosticRecord{
			State:      decodeUTF16(state[:5]),
			NativeCode: int32(native),
			Message:    decodeUTF16(msg[:textLen]),
		})
	}
}
