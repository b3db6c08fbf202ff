package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"flowgate/internal/shared"

	_ "github.com/go-sql-driver/mysql"
)

func main() {
	// Get DSN from environment
	DSN, err := shared.SafeEnv("DSN")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: DSN environment variable is required: %v\n", err)
		os.Exit(1)
	}

	// Every migration in the folder, in name order, unless files are named
	migrations := os.Args[1:]
	if len(migrations) == 0 {
		migrations, err = filepath.Glob(filepath.Join("migrations", "*.sql"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing migrations: %v\n", err)
			os.Exit(1)
		}
		sort.Strings(migrations)
	}
	if len(migrations) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no migration files found")
		os.Exit(1)
	}

	// Connect to database
	db, err := sql.Open("mysql", DSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	// Test connection
	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "Error pinging database: %v\n", err)
		os.Exit(1)
	}

	for _, path := range migrations {
		migrationSQL, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading migration file %s: %v\n", path, err)
			os.Exit(1)
		}
		for _, stmt := range splitStatements(string(migrationSQL)) {
			if _, err := db.Exec(stmt); err != nil {
				fmt.Fprintf(os.Stderr, "Error executing statement from %s: %v\n", path, err)
				fmt.Fprintf(os.Stderr, "Statement: %s\n", stmt)
				os.Exit(1)
			}
		}
		fmt.Printf("Applied %s\n", path)
	}

	fmt.Println("Migration completed successfully!")
}

// splitStatements splits on semicolons and drops `--` comment lines
func splitStatements(migrationSQL string) []string {
	var out []string
	for _, stmt := range strings.Split(migrationSQL, ";") {
		lines := strings.Split(stmt, "\n")
		var cleanLines []string
		for _, line := range lines {
			trimmed := strings.TrimSpace(line)
			if !strings.HasPrefix(trimmed, "--") && trimmed != "" {
				cleanLines = append(cleanLines, line)
			}
		}
		stmt = strings.TrimSpace(strings.Join(cleanLines, "\n"))
		if stmt == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out
}
