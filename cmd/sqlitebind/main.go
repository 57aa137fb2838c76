package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/sqlitebind/sqlitebind"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)

	nullStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(lipgloss.Color("#666666"))

	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))
)

func main() {
	var (
		dbPath  = flag.String("db", "", "Database file (empty for an in-memory database)")
		mode    = flag.String("mode", "rwc", "Access mode: ro, rw or rwc")
		timeout = flag.Int("timeout", sqlitebind.DefaultBusyTimeout, "Busy timeout in milliseconds, 0 to disable")
		asTable = flag.Bool("table", false, "Materialize the result and print it as a table")
		limit   = flag.Int("limit", 0, "With -table, keep only the first N rows")
		execAll = flag.Bool("exec", false, "Run every statement and print each result row")
		verbose = flag.Bool("v", false, "Log binding activity to stderr")
		libPath = flag.String("lib", "", "Path to the sqlite shared library")
	)
	flag.Parse()

	sql := strings.Join(flag.Args(), " ")
	if sql == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		sql = string(data)
	}
	if strings.TrimSpace(sql) == "" {
		fmt.Fprintln(os.Stderr, "Usage: sqlitebind [-db file] [-mode ro|rw|rwc] [-table [-limit N]] [-exec] SQL")
		fmt.Fprintln(os.Stderr, "       echo SQL | sqlitebind -db file")
		os.Exit(1)
	}

	logger := zap.NewNop()
	if *verbose {
		if l, err := zap.NewDevelopment(); err == nil {
			logger = l
			sqlitebind.SetLogger(logger)
		}
	}
	if *libPath != "" {
		sqlitebind.SetLibraryPath(*libPath)
	}

	err := run(*dbPath, *mode, *timeout, sql, *asTable, *limit, *execAll)
	// os.Exit skips deferred calls
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(dbPath, mode string, timeout int, sql string, asTable bool, limit int, execAll bool) error {
	if err := sqlitebind.LoadRuntime(); err != nil {
		return err
	}
	conn := sqlitebind.NewConnection(sqlitebind.WithBusyTimeout(timeout))
	defer conn.Release()

	access, create := sqlitebind.WriteMode, true
	switch mode {
	case "ro":
		access, create = sqlitebind.ReadMode, false
	case "rw":
		create = false
	case "rwc":
	default:
		return fmt.Errorf("invalid mode %q", mode)
	}
	if err := conn.Open(dbPath, access, create); err != nil {
		return err
	}

	switch {
	case execAll:
		return runExec(conn, sql)
	case asTable:
		return runTable(conn, sql, limit)
	default:
		return runQuery(conn, sql)
	}
}

func runExec(conn *sqlitebind.Connection, sql string) error {
	header := true
	err := conn.Exec(sql, func(_ int, values, names []string) error {
		if header {
			fmt.Println(strings.Join(names, "\t"))
			header = false
		}
		fmt.Println(strings.Join(values, "\t"))
		return nil
	})
	if err != nil {
		return err
	}
	if header {
		fmt.Fprintf(os.Stderr, "%d row(s) changed\n", conn.Changes())
	}
	return nil
}

func runQuery(conn *sqlitebind.Connection, sql string) error {
	cur, err := conn.Query(sql)
	if err != nil {
		return err
	}
	defer cur.Free()

	fmt.Println(strings.Join(cur.Columns(), "\t"))
	for {
		ok, err := cur.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		fmt.Println(strings.Join(cur.Row(), "\t"))
	}
}

func runTable(conn *sqlitebind.Connection, sql string, limit int) error {
	result, err := conn.GetTable(sql, sqlitebind.TableFirstRows(limit))
	if err != nil {
		return err
	}
	if result.ColumnCount() == 0 {
		fmt.Println("(no rows)")
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(result.Columns()...).
		Rows(result.Rows()...)
	if term.IsTerminal(int(os.Stdout.Fd())) {
		rows := result.Rows()
		t = t.BorderStyle(borderStyle).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				if row >= 0 && row < len(rows) && rows[row][col] == "" {
					return nullStyle
				}
				return cellStyle
			})
	}
	fmt.Println(t.String())
	if shown := len(result.Rows()); shown < result.RowCount() {
		fmt.Printf("(%d of %d rows)\n", shown, result.RowCount())
	}
	return nil
}
