package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Create writes an empty up/down migration pair into dir and returns the
// two file paths. The version prefix is a timestamp so files sort in
// creation order.
func Create(dir, name string) (upPath, downPath string, err error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create migrations directory: %w", err)
	}

	base := fmt.Sprintf("%s_%s", time.Now().Format("20060102150405"), slugify(name))
	upPath = filepath.Join(dir, base+".up.sql")
	downPath = filepath.Join(dir, base+".down.sql")

	header := fmt.Sprintf("-- %s\n\n", name)
	if err := os.WriteFile(upPath, []byte(header), 0644); err != nil {
		return "", "", fmt.Errorf("failed to write %s: %w", upPath, err)
	}
	if err := os.WriteFile(downPath, []byte(header), 0644); err != nil {
		os.Remove(upPath)
		return "", "", fmt.Errorf("failed to write %s: %w", downPath, err)
	}
	return upPath, downPath, nil
}

func slugify(name string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, c := range strings.ToLower(name) {
		switch {
		case c >= 'a' && c <= 'z' || c >= '0' && c <= '9':
			b.WriteRune(c)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
