package file

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"delimconv/internal/datasource/httpds"
)

// ReadList loads an explicit list of source files, one per line, as an
// alternative to walking a directory tree.
//
// Blank lines and lines starting with '#' (after trimming) are skipped.
// Entries keep their order; "~" is expanded and relative entries are
// resolved against the directory holding the list file. http and https URLs
// are kept as written.
func ReadList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	base := filepath.Dir(path)
	var out []string
	scanner := bufio.NewScanner(f)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if httpds.IsURL(line) {
			out = append(out, line)
			continue
		}
		p, err := ExpandHome(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, n, err)
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		out = append(out, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
