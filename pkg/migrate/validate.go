package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

	// The ledger schema runs on Postgres and SQLite, so Postgres-only syntax
	// is rejected up front.
	nonPortableSQL = []struct {
		re   *regexp.Regexp
		what string
	}{
		{regexp.MustCompile(`(?i)\bjsonb\b`), "JSONB"},
		{regexp.MustCompile(`(?i)\b(big|small)?serial\b`), "SERIAL"},
		{regexp.MustCompile(`::`), "'::' cast"},
		{regexp.MustCompile(`(?i)\bgen_random_uuid\b`), "gen_random_uuid()"},
		{regexp.MustCompile(`(?i)\bcreate\s+extension\b`), "CREATE EXTENSION"},
	}
)

type migrationFile struct {
	version string
	name    string
	path    string
}

// listMigrations returns the SQL migrations in dir ordered by version. It
// fails on malformed filenames and duplicate versions.
func listMigrations(dir string) ([]migrationFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}

	seen := map[string]string{}
	var files []migrationFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		name := e.Name()
		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			return nil, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		if prev, ok := seen[m[1]]; ok {
			return nil, fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, name)
		}
		seen[m[1]] = name
		files = append(files, migrationFile{version: m[1], name: name, path: filepath.Join(dir, name)})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

// ValidateDir checks filenames, goose annotations and driver portability of
// every migration in dir.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}

	files, err := listMigrations(dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		b, err := os.ReadFile(f.path)
		if err != nil {
			return fmt.Errorf("read file %q: %w", f.path, err)
		}
		if err := validateSQL(string(b)); err != nil {
			return fmt.Errorf("migration %q: %w", f.name, err)
		}
	}
	return nil
}

func validateSQL(txt string) error {
	up := strings.Index(txt, "-- +goose Up")
	down := strings.Index(txt, "-- +goose Down")
	switch {
	case up < 0:
		return fmt.Errorf("missing \"-- +goose Up\"")
	case down < 0:
		return fmt.Errorf("missing \"-- +goose Down\"")
	case down < up:
		return fmt.Errorf("\"-- +goose Down\" precedes \"-- +goose Up\"")
	}

	depth := 0
	var body []string
	for i, line := range strings.Split(txt, "\n") {
		trimmed := strings.TrimSpace(line)
		switch trimmed {
		case "-- +goose StatementBegin":
			if depth > 0 {
				return fmt.Errorf("line %d: nested StatementBegin", i+1)
			}
			depth++
			continue
		case "-- +goose StatementEnd":
			if depth == 0 {
				return fmt.Errorf("line %d: StatementEnd without StatementBegin", i+1)
			}
			depth--
			continue
		}
		if !strings.HasPrefix(trimmed, "--") {
			body = append(body, line)
		}
	}
	if depth != 0 {
		return fmt.Errorf("unterminated StatementBegin")
	}

	sql := strings.Join(body, "\n")
	for _, rule := range nonPortableSQL {
		if rule.re.MatchString(sql) {
			return fmt.Errorf("uses %s, which SQLite cannot run", rule.what)
		}
	}
	return nil
}
