// Package inputs loads the line-delimited work item and proxy files.
package inputs

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
)

// ErrNoItems is returned when the items file has no usable lines.
var ErrNoItems = errors.New("no work items found")

// ReadLines returns the trimmed, non-blank lines of the file at path. A
// leading "~" is expanded to the user's home directory.
func ReadLines(path string) ([]string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand %s: %w", path, err)
	}

	f, err := os.Open(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return lines, nil
}

// LoadItems reads the work items. A missing or empty file is an error: a run
// with nothing to do must not look like a clean run.
func LoadItems(path string) ([]string, error) {
	items, err := ReadLines(path)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoItems, path)
	}
	return items, nil
}

// LoadProxies reads and parses the proxy pool. A missing file or an empty
// path yields an empty pool, which means items run without a proxy. Lines
// that do not parse are logged and left out of the pool.
func LoadProxies(path string, logger *zap.Logger) ([]Proxy, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	lines, err := ReadLines(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	proxies := make([]Proxy, 0, len(lines))
	for i, line := range lines {
		p, err := ParseProxy(line)
		if err != nil {
			logger.Warn("Skipping proxy entry",
				zap.String("file", path),
				zap.Int("line", i+1),
				zap.Error(err),
			)
			continue
		}
		proxies = append(proxies, p)
	}
	return proxies, nil
}
