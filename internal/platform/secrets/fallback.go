package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// readFallbackFile parses a local secrets file of "secret://name[?version=N]=value" lines.
// A missing file yields an empty set. Values are keyed both by canonical reference and by
// reference plus version.
func readFallbackFile(path string) (map[string]string, error) {
	values := make(map[string]string)
	path = strings.TrimSpace(path)
	if path == "" {
		return values, nil
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return values, fmt.Errorf("secrets: open fallback file %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		refText, value, ok := splitFallbackLine(line)
		if !ok {
			continue
		}
		ref, err := parseReference(refText)
		if err != nil {
			continue
		}
		version := ref.version
		if version == "" {
			version = "latest"
		}
		values[ref.canonical] = value
		values[ref.key(version)] = value
	}
	if err := scanner.Err(); err != nil {
		return values, fmt.Errorf("secrets: read fallback file %s: %w", path, err)
	}
	return values, nil
}

// splitFallbackLine separates reference and value at the first "=" that is not part of the
// reference's query string.
func splitFallbackLine(line string) (string, string, bool) {
	for i := 0; i < len(line); i++ {
		if line[i] != '=' {
			continue
		}
		ref := line[:i]
		q := strings.IndexByte(ref, '?')
		if q < 0 || queryComplete(ref[q+1:]) {
			return strings.TrimSpace(ref), strings.TrimSpace(line[i+1:]), true
		}
	}
	return "", "", false
}

func queryComplete(query string) bool {
	for _, pair := range strings.Split(query, "&") {
		if !strings.Contains(pair, "=") {
			return false
		}
	}
	return true
}
