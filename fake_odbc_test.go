package odbc

import (
	"testing"
	"unicode/utf16"
	"unsafe"
)

// fakeResult scripts what SQLExecDirectW does for one statement text.
type fakeResult struct {
	ret      SQLRETURN
	diag     []DiagnosticRecord
	columns  []string
	rows     [][]*string
	rowCount int64
}

type fakeDbc struct {
	env        SQLHANDLE
	connected  bool
	autocommit bool
}

type fakeStmt struct {
	dbc     SQLHANDLE
	result  *fakeResult
	row     int
	offsets map[int]int
}

// fakeODBC is an in-memory driver manager installed into the c_SQL* variables.
// It tracks every handle so tests can assert that nothing leaks or is freed twice.
type fakeODBC struct {
	next  SQLHANDLE
	envs  map[SQLHANDLE]bool
	dbcs  map[SQLHANDLE]*fakeDbc
	stmts map[SQLHANDLE]*fakeStmt
	diags map[SQLHANDLE][]DiagnosticRecord

	results map[string]*fakeResult

	allocFail     map[SQLSMALLINT]bool
	connectRet    SQLRETURN
	disconnectRet SQLRETURN
	dead          bool

	allocs         map[SQLSMALLINT]int
	frees          map[SQLSMALLINT]int
	disconnects    int
	invalid        int
	liveStmtsAtDis int
	connStrings    []string
	executed       []string
	executedRaw    [][]uint16
	loginTimeout   uintptr
	endTrans       []SQLSMALLINT
}

func strptr(s string) *string {
	return &s
}

func wide(s string) []uint16 {
	return utf16.Encode([]rune(s))
}

func narrow(u []uint16) string {
	return string(utf16.Decode(u))
}

// installFakeODBC swaps the fake in for the driver manager for the duration of the test.
// Tests using it must not run in parallel.
func installFakeODBC(t *testing.T) *fakeODBC {
	t.Helper()
	f := &fakeODBC{
		next:      0x1000,
		envs:      map[SQLHANDLE]bool{},
		dbcs:      map[SQLHANDLE]*fakeDbc{},
		stmts:     map[SQLHANDLE]*fakeStmt{},
		diags:     map[SQLHANDLE][]DiagnosticRecord{},
		allocFail: map[SQLSMALLINT]bool{},
		allocs:    map[SQLSMALLINT]int{},
		frees:     map[SQLSMALLINT]int{},
		results: map[string]*fakeResult{
			"SELECT 1": {
				ret:     SQL_SUCCESS,
				columns: []string{"one"},
				rows:    [][]*string{{strptr("1")}},
			},
			"SELECT name, city FROM people": {
				ret:     SQL_SUCCESS,
				columns: []string{"name", "city"},
				rows: [][]*string{
					{strptr("ada"), strptr("London")},
					{strptr("grace"), nil},
				},
			},
			"SELECT * FROM empty": {
				ret:     SQL_SUCCESS,
				columns: []string{"id"},
			},
			"UPDATE people SET city = 'Paris'": {
				ret:      SQL_SUCCESS,
				rowCount: 2,
			},
			"DELETE FROM people WHERE 1 = 0": {
				ret: SQL_NO_DATA,
			},
		},
	}

	alloc, free, setEnv, connect := c_SQLAllocHandle, c_SQLFreeHandle, c_SQLSetEnvAttr, c_SQLDriverConnectW
	disconnect, setConn, getConn, endTran := c_SQLDisconnect, c_SQLSetConnectAttrW, c_SQLGetConnectAttrW, c_SQLEndTran
	exec, numCols, describe, fetch := c_SQLExecDirectW, c_SQLNumResultCols, c_SQLDescribeColW, c_SQLFetch
	getData, rowCount, diag := c_SQLGetData, c_SQLRowCount, c_SQLGetDiagRecW
	libMu.Lock()
	loaded := libLoaded
	libMu.Unlock()

	c_SQLAllocHandle = f.allocHandle
	c_SQLFreeHandle = f.freeHandle
	c_SQLSetEnvAttr = f.setEnvAttr
	c_SQLDriverConnectW = f.driverConnect
	c_SQLDisconnect = f.disconnect
	c_SQLSetConnectAttrW = f.setConnectAttr
	c_SQLGetConnectAttrW = f.getConnectAttr
	c_SQLEndTran = f.endTran
	c_SQLExecDirectW = f.execDirect
	c_SQLNumResultCols = f.numResultCols
	c_SQLDescribeColW = f.describeCol
	c_SQLFetch = f.fetch
	c_SQLGetData = f.getData
	c_SQLRowCount = f.rowCountFn
	c_SQLGetDiagRecW = f.getDiagRec
	libMu.Lock()
	libLoaded = true
	libMu.Unlock()

	t.Cleanup(func() {
		c_SQLAllocHandle, c_SQLFreeHandle, c_SQLSetEnvAttr, c_SQLDriverConnectW = alloc, free, setEnv, connect
		c_SQLDisconnect, c_SQLSetConnectAttrW, c_SQLGetConnectAttrW, c_SQLEndTran = disconnect, setConn, getConn, endTran
		c_SQLExecDirectW, c_SQLNumResultCols, c_SQLDescribeColW, c_SQLFetch = exec, numCols, describe, fetch
		c_SQLGetData, c_SQLRowCount, c_SQLGetDiagRecW = getData, rowCount, diag
		libMu.Lock()
		libLoaded = loaded
		libMu.Unlock()
	})
	return f
}

// live reports how many handles of each kind are still allocated.
func (f *fakeODBC) live() (envs, dbcs, stmts int) {
	return len(f.envs), len(f.dbcs), len(f.stmts)
}

func (f *fakeODBC) setDiag(h SQLHANDLE, recs ...DiagnosticRecord) {
	f.diags[h] = recs
}

func (f *fakeODBC) allocHandle(handleType SQLSMALLINT, input SQLHANDLE, output unsafe.Pointer) SQLRETURN {
	if f.allocFail[handleType] {
		if input != SQL_NULL_HANDLE {
			f.setDiag(input, DiagnosticRecord{State: "HY001", Message: "Memory allocation error"})
		}
		return SQL_ERROR
	}
	f.next += 0x10
	h := f.next
	switch handleType {
	case SQL_HANDLE_ENV:
		f.envs[h] = true
	case SQL_HANDLE_DBC:
		if !f.envs[input] {
			f.invalid++
			return SQL_INVALID_HANDLE
		}
		f.dbcs[h] = &fakeDbc{env: input, autocommit: true}
	case SQL_HANDLE_STMT:
		d := f.dbcs[input]
		if d == nil || !d.connected {
			f.invalid++
			return SQL_INVALID_HANDLE
		}
		f.stmts[h] = &fakeStmt{dbc: input, row: -1}
	}
	f.allocs[handleType]++
	*(*SQLHANDLE)(output) = h
	return SQL_SUCCESS
}

func (f *fakeODBC) freeHandle(handleType SQLSMALLINT, h SQLHANDLE) SQLRETURN {
	switch handleType {
	case SQL_HANDLE_ENV:
		if !f.envs[h] {
			f.invalid++
			return SQL_INVALID_HANDLE
		}
		for _, d := range f.dbcs {
			if d.env == h {
				f.setDiag(h, DiagnosticRecord{State: "HY010", Message: "Function sequence error"})
				return SQL_ERROR
			}
		}
		delete(f.envs, h)
	case SQL_HANDLE_DBC:
		d := f.dbcs[h]
		if d == nil {
			f.invalid++
			return SQL_INVALID_HANDLE
		}
		if d.connected {
			f.setDiag(h, DiagnosticRecord{State: "HY010", Message: "Function sequence error"})
			return SQL_ERROR
		}
		delete(f.dbcs, h)
	case SQL_HANDLE_STMT:
		if f.stmts[h] == nil {
			f.invalid++
			return SQL_INVALID_HANDLE
		}
		delete(f.stmts, h)
	}
	delete(f.diags, h)
	f.frees[handleType]++
	return SQL_SUCCESS
}

func (f *fakeODBC) setEnvAttr(env SQLHANDLE, attribute SQLINTEGER, value uintptr, length SQLINTEGER) SQLRETURN {
	if !f.envs[env] {
		f.invalid++
		return SQL_INVALID_HANDLE
	}
	return SQL_SUCCESS
}

func (f *fakeODBC) driverConnect(dbc SQLHANDLE, hwnd uintptr, in unsafe.Pointer, inLen SQLSMALLINT, out unsafe.Pointer, outMax SQLSMALLINT, outLen unsafe.Pointer, completion SQLUSMALLINT) SQLRETURN {
	d := f.dbcs[dbc]
	if d == nil {
		f.invalid++
		return SQL_INVALID_HANDLE
	}
	f.connStrings = append(f.connStrings, narrow(unsafe.Slice((*uint16)(in), int(inLen))))
	if f.connectRet != SQL_SUCCESS {
		f.setDiag(dbc, DiagnosticRecord{State: "08001", NativeCode: 17, Message: "Unable to connect to data source"})
		return f.connectRet
	}
	d.connected = true
	return SQL_SUCCESS
}

func (f *fakeODBC) disconnect(dbc SQLHANDLE) SQLRETURN {
	d := f.dbcs[dbc]
	if d == nil {
		f.invalid++
		return SQL_INVALID_HANDLE
	}
	f.disconnects++
	for _, s := range f.stmts {
		if s.dbc == dbc {
			f.liveStmtsAtDis++
		}
	}
	if f.disconnectRet != SQL_SUCCESS {
		f.setDiag(dbc, DiagnosticRecord{State: "08S01", Message: "Communication link failure"})
		return f.disconnectRet
	}
	d.connected = false
	return SQL_SUCCESS
}

func (f *fakeODBC) setConnectAttr(dbc SQLHANDLE, attribute SQLINTEGER, value uintptr, length SQLINTEGER) SQLRETURN {
	d := f.dbcs[dbc]
	if d == nil {
		f.invalid++
		return SQL_INVALID_HANDLE
	}
	switch attribute {
	case SQL_ATTR_AUTOCOMMIT:
		d.autocommit = value == SQL_AUTOCOMMIT_ON
	case SQL_ATTR_LOGIN_TIMEOUT:
		f.loginTimeout = value
	}
	return SQL_SUCCESS
}

func (f *fakeODBC) getConnectAttr(dbc SQLHANDLE, attribute SQLINTEGER, value unsafe.Pointer, bufLen SQLINTEGER, strLen unsafe.Pointer) SQLRETURN {
	if f.dbcs[dbc] == nil {
		f.invalid++
		return SQL_INVALID_HANDLE
	}
	if attribute == SQL_ATTR_CONNECTION_DEAD {
		v := SQLINTEGER(0)
		if f.dead {
			v = SQL_CD_TRUE
		}
		*(*SQLINTEGER)(value) = v
	}
	return SQL_SUCCESS
}

func (f *fakeODBC) endTran(handleType SQLSMALLINT, h SQLHANDLE, completion SQLSMALLINT) SQLRETURN {
	if f.dbcs[h] == nil {
		f.invalid++
		return SQL_INVALID_HANDLE
	}
	f.endTrans = append(f.endTrans, completion)
	return SQL_SUCCESS
}

func (f *fakeODBC) execDirect(stmt SQLHANDLE, text unsafe.Pointer, length SQLINTEGER) SQLRETURN {
	s := f.stmts[stmt]
	if s == nil {
		f.invalid++
		return SQL_INVALID_HANDLE
	}
	raw := append([]uint16(nil), unsafe.Slice((*uint16)(text), int(length))...)
	query := narrow(raw)
	f.executedRaw = append(f.executedRaw, raw)
	f.executed = append(f.executed, query)
	r := f.results[query]
	if r == nil {
		r = &fakeResult{
			ret:  SQL_ERROR,
			diag: []DiagnosticRecord{{State: "42000", NativeCode: 102, Message: "Syntax error or access violation"}},
		}
	}
	if len(r.diag) > 0 {
		f.setDiag(stmt, r.diag...)
	}
	if IsSuccess(r.ret) {
		s.result = r
	}
	return r.ret
}

func (f *fakeODBC) numResultCols(stmt SQLHANDLE, count unsafe.Pointer) SQLRETURN {
	s := f.stmts[stmt]
	if s == nil {
		f.invalid++
		return SQL_INVALID_HANDLE
	}
	n := 0
	if s.result != nil {
		n = len(s.result.columns)
	}
	*(*SQLSMALLINT)(count) = SQLSMALLINT(n)
	return SQL_SUCCESS
}

func (f *fakeODBC) describeCol(stmt SQLHANDLE, column SQLUSMALLINT, name unsafe.Pointer, bufLen SQLSMALLINT, nameLen, dataType, columnSize, decimalDigits, nullable unsafe.Pointer) SQLRETURN {
	s := f.stmts[stmt]
	if s == nil {
		f.invalid++
		return SQL_INVALID_HANDLE
	}
	if s.result == nil || column < 1 || int(column) > len(s.result.columns) {
		f.setDiag(stmt, DiagnosticRecord{State: "07009", Message: "Invalid descriptor index"})
		return SQL_ERROR
	}
	units := wide(s.result.columns[column-1])
	dst := unsafe.Slice((*uint16)(name), int(bufLen))
	n := copy(dst[:len(dst)-1], units)
	dst[n] = 0
	*(*SQLSMALLINT)(nameLen) = SQLSMALLINT(len(units))
	*(*SQLSMALLINT)(dataType) = -9
	*(*SQLULEN)(columnSize) = 255
	*(*SQLSMALLINT)(decimalDigits) = 0
	*(*SQLSMALLINT)(nullable) = SQL_NULLABLE
	if len(units) > n {
		return SQL_SUCCESS_WITH_INFO
	}
	return SQL_SUCCESS
}

func (f *fakeODBC) fetch(stmt SQLHANDLE) SQLRETURN {
	s := f.stmts[stmt]
	if s == nil {
		f.invalid++
		return SQL_INVALID_HANDLE
	}
	if s.result == nil || len(s.result.columns) == 0 {
		f.setDiag(stmt, DiagnosticRecord{State: "24000", Message: "Invalid cursor state"})
		return SQL_ERROR
	}
	s.row++
	s.offsets = map[int]int{}
	if s.row >= len(s.result.rows) {
		return SQL_NO_DATA
	}
	return SQL_SUCCESS
}

func (f *fakeODBC) getData(stmt SQLHANDLE, column SQLUSMALLINT, targetType SQLSMALLINT, target unsafe.Pointer, bufLen SQLLEN, indicator unsafe.Pointer) SQLRETURN {
	s := f.stmts[stmt]
	if s == nil {
		f.invalid++
		return SQL_INVALID_HANDLE
	}
	if s.result == nil || s.row < 0 || s.row >= len(s.result.rows) {
		f.setDiag(stmt, DiagnosticRecord{State: "24000", Message: "Invalid cursor state"})
		return SQL_ERROR
	}
	row := s.result.rows[s.row]
	if column < 1 || int(column) > len(row) {
		f.setDiag(stmt, DiagnosticRecord{State: "07009", Message: "Invalid descriptor index"})
		return SQL_ERROR
	}
	v := row[column-1]
	if v == nil {
		*(*SQLLEN)(indicator) = SQL_NULL_DATA
		return SQL_SUCCESS
	}
	units := wide(*v)
	off := s.offsets[int(column)]
	if off > 0 && off >= len(units) {
		return SQL_NO_DATA
	}
	remaining := units[off:]
	capacity := int(bufLen)/2 - 1
	dst := unsafe.Slice((*uint16)(target), int(bufLen)/2)
	*(*SQLLEN)(indicator) = SQLLEN(len(remaining) * 2)
	if len(remaining) <= capacity {
		copy(dst, remaining)
		dst[len(remaining)] = 0
		s.offsets[int(column)] = len(units)
		return SQL_SUCCESS
	}
	copy(dst, remaining[:capacity])
	dst[capacity] = 0
	s.offsets[int(column)] = off + capacity
	f.setDiag(stmt, DiagnosticRecord{State: "01004", Message: "String data, right truncated"})
	return SQL_SUCCESS_WITH_INFO
}

func (f *fakeODBC) rowCountFn(stmt SQLHANDLE, count unsafe.Pointer) SQLRETURN {
	s := f.stmts[stmt]
	if s == nil {
		f.invalid++
		return SQL_INVALID_HANDLE
	}
	var n int64
	if s.result != nil {
		n = s.result.rowCount
	}
	*(*SQLLEN)(count) = SQLLEN(n)
	return SQL_SUCCESS
}

func (f *fakeODBC) getDiagRec(handleType SQLSMALLINT, h SQLHANDLE, record SQLSMALLINT, state, native, message unsafe.Pointer, bufLen SQLSMALLINT, textLen unsafe.Pointer) SQLRETURN {
	recs := f.diags[h]
	if record < 1 || int(record) > len(recs) {
		return SQL_NO_DATA
	}
	r := recs[record-1]
	st := unsafe.Slice((*uint16)(state), 6)
	copy(st, wide(r.State))
	st[5] = 0
	*(*SQLINTEGER)(native) = SQLINTEGER(r.NativeCode)
	units := wide(r.Message)
	dst := unsafe.Slice((*uint16)(message), int(bufLen))
	n := copy(dst[:len(dst)-1], units)
	dst[n] = 0
	*(*SQLSMALLINT)(textLen) = SQLSMALLINT(len(units))
	if len(units) > n {
		return SQL_SUCCESS_WITH_INFO
	}
	return SQL_SUCCESS
}
