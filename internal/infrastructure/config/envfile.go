package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// DefaultEnvFile is where LoadEnvFile looks when MQTT2INFLUX_ENV_FILE is unset.
const DefaultEnvFile = "config/server.env"

// ErrEnvFileNotFound is returned by LoadEnvFile when the file does not exist.
// Callers treat it as "use the system environment only".
var ErrEnvFileNotFound = errors.New("config: env file not found")

// LoadEnvFile parses a file of KEY=VALUE lines.
//
// Each line is split on the first '=' only, so "A=b=c" yields A -> "b=c".
// Values are kept verbatim; quotes are not stripped. Blank lines and lines
// starting with '#' are skipped. When a key repeats, the first value wins.
//
// The result is never written to the process environment. Load consults it
// beneath the real environment, so a variable already set in the process wins.
//
// Returns:
//   - map[string]string: Parsed variables
//   - error: ErrEnvFileNotFound if the file is missing, or a parse error naming the line
func LoadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrEnvFileNotFound, path)
		}
		return nil, fmt.Errorf("opening env file: %w", err)
	}
	defer f.Close()

	vars := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("env file %s line %d: missing '='", path, lineNo)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("env file %s line %d: empty key", path, lineNo)
		}
		if _, dup := vars[key]; !dup {
			vars[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading env file: %w", err)
	}

	return vars, nil
}

// EnvFilePath returns the env file path from MQTT2INFLUX_ENV_FILE or the default.
func EnvFilePath() string {
	if path := os.Getenv(EnvEnvFile); path != "" {
		return path
	}
	return DefaultEnvFile
}
