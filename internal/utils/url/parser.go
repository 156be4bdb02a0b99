package urlutil

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// ValidateURL performs comprehensive URL validation
func ValidateURL(urlStr string) error {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: must be http or https, got %s", parsed.Scheme)
	}

	if parsed.Host == "" {
		return fmt.Errorf("invalid URL: missing host")
	}

	return nil
}

// Normalize trims inputs and drops blank entries. Order and duplicates
// are kept: duplicates share one outcome downstream.
func Normalize(inputs []string) []string {
	out := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if in = strings.TrimSpace(in); in != "" {
			out = append(out, in)
		}
	}
	return out
}

// ReadInputs reads one input per line from r, skipping blank lines and
// lines starting with #
func ReadInputs(r io.Reader) ([]string, error) {
	var inputs []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		inputs = append(inputs, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read inputs: %w", err)
	}
	return inputs, nil
}
