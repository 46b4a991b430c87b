package store

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestMigrationFilesArePairedAndNonEmpty(t *testing.T) {
	migrationsDir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d{4})_.*\.(up|down)\.sql$`)
	seen := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := pattern.FindStringSubmatch(entry.Name())
		if match == nil {
			t.Fatalf("unexpected file in migrations dir: %s", entry.Name())
		}
		contents, err := os.ReadFile(filepath.Join(migrationsDir, entry.Name()))
		if err != nil {
			t.Fatalf("read %s: %v", entry.Name(), err)
		}
		if strings.TrimSpace(string(contents)) == "" {
			t.Fatalf("%s is empty", entry.Name())
		}
		version, direction := match[1], match[2]
		if seen[version] == nil {
			seen[version] = map[string]bool{}
		}
		seen[version][direction] = true
	}

	if len(seen) == 0 {
		t.Fatal("no migrations discovered")
	}
	for version, dirs := range seen {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestUpMigrationsAreSorted(t *testing.T) {
	files, err := upMigrations(filepath.Join("..", "..", "db", "migrations"))
	if err != nil {
		t.Fatalf("upMigrations() error = %v", err)
	}
	for i := 1; i < len(files); i++ {
		if files[i-1] > files[i] {
			t.Fatalf("migrations out of order: %s before %s", files[i-1], files[i])
		}
	}
	for _, file := range files {
		if !strings.HasSuffix(file, ".up.sql") {
			t.Fatalf("unexpected migration %s", file)
		}
	}
}
