package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"
)

const (
	versionLayout = "20060102150405"
	upMarker      = "-- +goose Up"
	downMarker    = "-- +goose Down"
)

var (
	fileNameRe  = regexp.MustCompile(`^(\d{14})_([a-z0-9]+(?:_[a-z0-9]+)*)\.sql$`)
	nonSlugRe   = regexp.MustCompile(`[^a-z0-9]+`)
	skeletonSQL = upMarker + `
-- +goose StatementBegin
-- %[1]s
-- +goose StatementEnd

` + downMarker + `
-- +goose StatementBegin
-- revert %[1]s
-- +goose StatementEnd
`
)

// File is one goose SQL migration on disk.
type File struct {
	Version string
	Name    string
	Path    string
}

// Slug turns a free-form description into the snake_case part of a
// migration file name.
func Slug(name string) string {
	return strings.Trim(nonSlugRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
}

// CreateSQLMigration writes an empty goose migration named after the current
// UTC time.
func CreateSQLMigration(dir, name string) (string, error) {
	return createAt(dir, name, time.Now())
}

func createAt(dir, name string, now time.Time) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	slug := Slug(name)
	if slug == "" {
		return "", fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}

	path := filepath.Join(dir, now.UTC().Format(versionLayout)+"_"+slug+".sql")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration: %w", err)
	}
	_, err = fmt.Fprintf(f, skeletonSQL, slug)
	err = multierr.Append(err, f.Close())
	if err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// ListFiles returns the SQL migrations in dir ordered by version. Files that
// do not end in .sql are ignored.
func ListFiles(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var files []File
	var errs error
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		m := fileNameRe.FindStringSubmatch(entry.Name())
		if m == nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: expected YYYYMMDDHHMMSS_snake_name.sql", entry.Name()))
			continue
		}
		files = append(files, File{Version: m[1], Name: m[2], Path: filepath.Join(dir, entry.Name())})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, errs
}

// ValidateDir checks every migration in dir and reports all problems at once:
// bad file names, duplicate versions, and missing or misordered goose
// sections.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	files, errs := ListFiles(dir)

	for i, file := range files {
		if i > 0 && files[i-1].Version == file.Version {
			errs = multierr.Append(errs, fmt.Errorf("version %s used by %s and %s", file.Version, files[i-1].Name, file.Name))
		}
		if _, err := time.Parse(versionLayout, file.Version); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: version is not a timestamp", filepath.Base(file.Path)))
		}
		errs = multierr.Append(errs, checkSections(file))
	}
	return errs
}

func checkSections(file File) error {
	data, err := os.ReadFile(file.Path)
	if err != nil {
		return fmt.Errorf("read %s: %w", file.Path, err)
	}
	body := string(data)
	up := strings.Index(body, upMarker)
	down := strings.Index(body, downMarker)

	base := filepath.Base(file.Path)
	switch {
	case up < 0:
		return fmt.Errorf("%s: missing %q", base, upMarker)
	case down < 0:
		return fmt.Errorf("%s: missing %q", base, downMarker)
	case down < up:
		return fmt.Errorf("%s: down section precedes up section", base)
	}
	return nil
}
