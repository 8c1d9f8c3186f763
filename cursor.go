package odbc

// ColumnDescription is the metadata SQLDescribeColW reports for a result column.
type ColumnDescription struct {
	Name          string
	DataType      SQLSMALLINT
	Size          uint64
	DecimalDigits int16
	Nullable      bool
}

// Cursor is the read side of a result set produced by Connection.ExecDirect.
// It owns the executed statement; Close releases the statement handle.
//
// Column indexes are zero-based.
type Cursor struct {
	stmt    *Statement
	columns []string
	closed  bool
}

func newCursor(stmt *Statement) *Cursor {
	return &Cursor{stmt: stmt}
}

// NumColumns returns the number of result columns. Statements which executed
// successfully without a result set, such as most UPDATE statements, report 0.
func (c *Cursor) NumColumns() (int, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	n, ret := odbc_num_result_cols(c.stmt.handle)
	if !IsSuccess(ret) {
		return 0, c.stmt.nativeError("SQLNumResultCols", ret)
	}
	return n, nil
}

// Describe returns the metadata of column col.
func (c *Cursor) Describe(col int) (ColumnDescription, error) {
	if err := c.check(); err != nil {
		return ColumnDescription{}, err
	}
	desc, ret := odbc_describe_col(c.stmt.handle, col+1)
	if !IsSuccess(ret) {
		return ColumnDescription{}, c.stmt.nativeError("SQLDescribeColW", ret)
	}
	return desc, nil
}

// Columns returns the result column names.
func (c *Cursor) Columns() ([]string, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if c.columns != nil {
		return c.columns, nil
	}
	n, err := c.NumColumns()
	if err != nil {
		return nil, err
	}
	names := make([]string, n)
	for i := range names {
		desc, err := c.Describe(i)
		if err != nil {
			return nil, err
		}
		names[i] = desc.Name
	}
	c.columns = names
	return names, nil
}

// Next advances to the next row. It returns false once the result set is exhausted.
func (c *Cursor) Next() (bool, error) {
	if err := c.check(); err != nil {
		return false, err
	}
	ret := odbc_fetch(c.stmt.handle)
	switch classify(ret) {
	case outcomeSuccess:
		return true, nil
	case outcomeNoData:
		return false, nil
	default:
		return false, c.stmt.nativeError("SQLFetch", ret)
	}
}

// Get reads column col of the current row as text. null is true for SQL NULL.
// Each column of a row can be read once; a second read fails with ErrColumnConsumed.
func (c *Cursor) Get(col int) (value string, null bool, err error) {
	if err := c.check(); err != nil {
		return "", false, err
	}
	value, null, ret := odbc_get_text(c.stmt.handle, col+1)
	if ret == SQL_NO_DATA {
		return "", false, ErrColumnConsumed
	}
	if !IsSuccess(ret) {
		return "", false, c.stmt.nativeError("SQLGetData", ret)
	}
	return value, null, nil
}

// RowsAffected returns the number of rows changed by the executed statement,
// or -1 if the driver does not know.
func (c *Cursor) RowsAffected() (int64, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	n, ret := odbc_row_count(c.stmt.handle)
	if !IsSuccess(ret) {
		return 0, c.stmt.nativeError("SQLRowCount", ret)
	}
	return n, nil
}

// Close releases the underlying statement handle. Closing twice is a no-op, as is
// closing a cursor whose connection was already torn down.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.stmt.release()
}

func (c *Cursor) check() error {
	if c.closed {
		return ErrCursorClosed
	}
	return c.stmt.checkLive()
}
