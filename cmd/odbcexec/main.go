// Command odbcexec executes SQL statements against an ODBC data source and
// prints the result sets tab separated.
//
//	ODBC_CONNECTION_STRING="DSN=warehouse" odbcexec "SELECT id, name FROM users"
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/handlewise/odbc"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	raw := flag.Bool("raw", false, "use the handle API directly instead of database/sql")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config file] [-raw] statement...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	config, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := newLogger(config.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	opts := []odbc.Option{
		odbc.WithLogger(logger),
		odbc.WithLibrary(odbc.LibraryConfig{Path: config.LibraryPath}),
		odbc.WithLoginTimeout(config.LoginTimeout),
	}
	run := runSQL
	if *raw {
		run = runRaw
	}
	if err := run(config.ConnectionString, opts, flag.Args(), os.Stdout); err != nil {
		logger.Error("execution failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Debug("done", zap.String("library", odbc.LibraryPath()), zap.Int("statements", flag.NArg()))
	_ = logger.Sync()
}

// runSQL goes through database/sql, one pooled connection at a time.
func runSQL(dsn string, opts []odbc.Option, queries []string, w io.Writer) error {
	connector, err := odbc.NewConnector(dsn, opts...)
	if err != nil {
		return err
	}
	db := sqlx.NewDb(sql.OpenDB(connector), "odbc")
	defer db.Close()
	db.SetMaxOpenConns(1)

	for _, query := range queries {
		rows, err := db.Queryx(query)
		if err != nil {
			return fmt.Errorf("%s: %w", query, err)
		}
		if err := printRows(w, rows); err != nil {
			return fmt.Errorf("%s: %w", query, err)
		}
	}
	return nil
}

func printRows(w io.Writer, rows *sqlx.Rows) error {
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return err
	}
	if len(columns) > 0 {
		fmt.Fprintln(w, strings.Join(columns, "\t"))
	}
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return err
		}
		fields := make([]string, len(values))
		for i, v := range values {
			fields[i] = formatValue(v)
		}
		fmt.Fprintln(w, strings.Join(fields, "\t"))
	}
	return rows.Err()
}

// runRaw uses the Environment, Connection and Cursor types directly.
func runRaw(dsn string, opts []odbc.Option, queries []string, w io.Writer) (err error) {
	env, err := odbc.NewEnvironment(opts...)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := env.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	conn, err := env.Connect(dsn)
	if err != nil {
		return err
	}
	defer conn.Release(&err)

	for _, query := range queries {
		cursor, execErr := conn.ExecDirect(query)
		if execErr != nil {
			return fmt.Errorf("%s: %w", query, execErr)
		}
		if cursor == nil {
			fmt.Fprintln(w, "(no data)")
			continue
		}
		if printErr := printCursor(w, cursor); printErr != nil {
			return fmt.Errorf("%s: %w", query, printErr)
		}
	}
	return nil
}

func printCursor(w io.Writer, cursor *odbc.Cursor) (err error) {
	defer func() {
		if closeErr := cursor.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	columns, err := cursor.Columns()
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		n, err := cursor.RowsAffected()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "(%d rows affected)\n", n)
		return nil
	}

	fmt.Fprintln(w, strings.Join(columns, "\t"))
	fields := make([]string, len(columns))
	for {
		ok, err := cursor.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		for i := range fields {
			value, null, err := cursor.Get(i)
			if err != nil {
				return err
			}
			if null {
				value = "NULL"
			}
			fields[i] = value
		}
		fmt.Fprintln(w, strings.Join(fields, "\t"))
	}
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}
