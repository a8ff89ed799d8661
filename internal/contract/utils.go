package contract

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/huangsam/orgpulse/schema"
)

// Color variables for console output.
var (
	FailedColor   = color.New(color.FgRed, color.Bold) // FailedColor represents standard danger.
	DegradedColor = color.New(color.FgYellow)          // DegradedColor represents standard caution, not bold.
	OKColor       = color.New(color.FgGreen)           // OKColor represents a clean outcome.
	SkippedColor  = color.New(color.FgCyan)            // SkippedColor represents informational / low-priority signal.
)

// GetPlainLabel returns a plain text label for a run status.
func GetPlainLabel(status schema.RunStatus) string {
	switch status {
	case schema.StatusOK:
		return "OK"
	case schema.StatusDegraded:
		return "Degraded"
	case schema.StatusFailed:
		return "Failed"
	case schema.StatusSkipped:
		return "Skipped"
	default:
		return "Unknown"
	}
}

// GetColorLabel returns a colored status label for console output (table).
func GetColorLabel(status schema.RunStatus) string {
	text := GetPlainLabel(status)
	switch status {
	case schema.StatusOK:
		return OKColor.Sprint(text)
	case schema.StatusDegraded:
		return DegradedColor.Sprint(text)
	case schema.StatusFailed:
		return FailedColor.Sprint(text)
	default:
		return SkippedColor.Sprint(text)
	}
}

// SelectOutputFile returns the appropriate file handle for output.
// An empty path means stdout.
func SelectOutputFile(filePath string) (*os.File, error) {
	if filePath == "" {
		return os.Stdout, nil
	}
	return os.Create(filePath)
}

// LogFatal logs an error and exits the program.
func LogFatal(msg string, err error) {
	_, _ = fmt.Fprintf(os.Stderr, "Fatal %s: %v\n", msg, err)
	os.Exit(1)
}

// LogWarn logs a warning without exiting. Used before the structured logger exists.
func LogWarn(msg string, err error) {
	_, _ = fmt.Fprintf(os.Stderr, "Warn %s: %v\n", msg, err)
}

// TruncateText shortens s to maxWidth runes with an ellipsis suffix.
// Requires maxWidth > 3 so there is room for the ellipsis and some content.
func TruncateText(s string, maxWidth int) string {
	runes := []rune(s)
	if len(runes) > maxWidth && maxWidth > 3 {
		return string(runes[:maxWidth-3]) + "..."
	}
	return s
}

// ParseBoolString parses a string value into a boolean.
// Accepts "yes", "no", "true", "false", "1", "0" (case-insensitive).
// Returns an error for invalid values.
func ParseBoolString(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "yes", "true", "1":
		return true, nil
	case "no", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean string: %s (expected yes/no/true/false/1/0)", s)
	}
}

// ParseDurationOr parses a Go duration, returning def for an empty string.
func ParseDurationOr(s string, def time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must not be negative: %s", s)
	}
	return d, nil
}

// ParseLocatorList reads one repository locator per line.
// Blank lines and lines starting with '#' are ignored.
func ParseLocatorList(data string) []string {
	var out []string
	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// DedupeStrings removes empty and repeated entries while keeping first-seen order.
func DedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
