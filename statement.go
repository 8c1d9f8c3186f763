package odbc

import "go.uber.org/zap"

// Statement owns one ODBC statement handle allocated from a Connection.
//
// Statements are created by Connection.ExecDirect and never outlive their
// connection: tearing the connection down releases every statement still alive,
// and any later use of such a statement fails with ErrConnClosed without reaching
// the driver.
type Statement struct {
	conn     *Connection
	handle   SQLHANDLE
	released bool
}

// execDirect runs query on the statement. It reports true when a cursor was
// created and false when the driver returned SQL_NO_DATA.
func (s *Statement) execDirect(query []uint16) (bool, error) {
	if err := s.checkLive(); err != nil {
		return false, err
	}
	ret := odbc_exec_direct(s.handle, query)
	switch classify(ret) {
	case outcomeSuccess:
		if ret == SQL_SUCCESS_WITH_INFO {
			s.logDiagnostics("SQLExecDirectW")
		}
		return true, nil
	case outcomeNoData:
		return false, nil
	default:
		return false, nativeError(KindExecution, "SQLExecDirectW", ret, SQL_HANDLE_STMT, s.handle)
	}
}

func (s *Statement) checkLive() error {
	if s.conn.state != stateConnected {
		return ErrConnClosed
	}
	if s.released {
		return ErrStmtClosed
	}
	return nil
}

// release frees the statement handle. Only the first call reaches the driver.
func (s *Statement) release() error {
	if s.released {
		return nil
	}
	var err error
	if ret := odbc_free_handle(SQL_HANDLE_STMT, s.handle); !IsSuccess(ret) {
		err = nativeError(KindRelease, "SQLFreeHandle(STMT)", ret, SQL_HANDLE_STMT, s.handle)
	} else {
		s.conn.metrics.released(kindStatement)
	}
	s.released = true
	s.handle = SQL_NULL_HANDLE
	delete(s.conn.statements, s)
	return err
}

func (s *Statement) logDiagnostics(function string) {
	if ce := s.conn.logger.Check(zap.DebugLevel, "driver returned diagnostics"); ce != nil {
		ce.Write(
			zap.String("function", function),
			zap.Stringers("diagnostics", odbc_diagnostics(SQL_HANDLE_STMT, s.handle)),
		)
	}
}

func (s *Statement) nativeError(function string, ret SQLRETURN) error {
	return nativeError(KindNative, function, ret, SQL_HANDLE_STMT, s.handle)
}
