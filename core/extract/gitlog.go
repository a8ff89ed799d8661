// Package extract ingests repository history into raw commit, pull request and approval rows.
package extract

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/huangsam/orgpulse/internal/contract"
	"github.com/huangsam/orgpulse/schema"
)

// headerFields is the number of LogFieldSep-separated fields in contract.LogFormat.
const headerFields = 8

// LogEntry is one commit of the log stream with its diff statistics.
type LogEntry struct {
	Hash         string
	Parents      []string
	Author       schema.Identity
	Committer    schema.Identity
	Timestamp    time.Time
	Message      string
	LinesAdded   int64
	LinesDeleted int64
	CharsAdded   int64
	CharsDeleted int64
	FilesChanged int64
	Extensions   string
}

// IsMerge reports whether the commit has more than one parent.
func (e LogEntry) IsMerge() bool { return len(e.Parents) > 1 }

// entryBuilder accumulates one commit while its patch streams by.
type entryBuilder struct {
	entry  LogEntry
	files  []string
	inHunk bool
}

func (b *entryBuilder) startFile(diffHeader string) {
	b.inHunk = false
	b.files = append(b.files, pathFromDiffHeader(diffHeader))
	b.entry.FilesChanged++
}

func (b *entryBuilder) setPath(p string) {
	if len(b.files) == 0 || p == "" || p == "/dev/null" {
		return
	}
	b.files[len(b.files)-1] = p
}

func (b *entryBuilder) patchLine(line string) {
	switch {
	case strings.HasPrefix(line, "diff --git "):
		b.startFile(line)
	case strings.HasPrefix(line, "@@"):
		b.inHunk = true
	case b.inHunk && strings.HasPrefix(line, "+"):
		b.entry.LinesAdded++
		b.entry.CharsAdded += int64(len(line) - 1)
	case b.inHunk && strings.HasPrefix(line, "-"):
		b.entry.LinesDeleted++
		b.entry.CharsDeleted += int64(len(line) - 1)
	case b.inHunk:
		// "\ No newline at end of file" and similar markers
	case strings.HasPrefix(line, "+++ b/"):
		b.setPath(strings.TrimPrefix(line, "+++ b/"))
	case strings.HasPrefix(line, "rename to "):
		b.setPath(strings.TrimPrefix(line, "rename to "))
	}
}

func (b *entryBuilder) finish() LogEntry {
	b.entry.Extensions = ExtensionSet(b.files)
	return b.entry
}

// pathFromDiffHeader reads the destination path of "diff --git a/X b/Y".
func pathFromDiffHeader(line string) string {
	rest := strings.TrimPrefix(line, "diff --git ")
	if i := strings.LastIndex(rest, " b/"); i >= 0 {
		return rest[i+3:]
	}
	return rest
}

// ExtensionSet returns the sorted, lowercase, comma-joined extensions of paths.
// Dotfiles without a further extension contribute their own name, e.g. ".gitignore" gives "gitignore".
func ExtensionSet(paths []string) string {
	set := make(map[string]struct{})
	for _, p := range paths {
		ext := path.Ext(path.Base(p))
		if len(ext) < 2 {
			continue
		}
		set[strings.ToLower(ext[1:])] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for ext := range set {
		out = append(out, ext)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

// parseHeader splits the formatted header into a LogEntry.
func parseHeader(header string) (LogEntry, error) {
	fields := strings.SplitN(header, contract.LogFieldSep, headerFields)
	if len(fields) != headerFields {
		return LogEntry{}, fmt.Errorf("malformed commit header with %d fields", len(fields))
	}
	ts, err := time.Parse(time.RFC3339, fields[6])
	if err != nil {
		return LogEntry{}, fmt.Errorf("commit %s has bad date %q: %w", fields[0], fields[6], err)
	}
	return LogEntry{
		Hash:      fields[0],
		Parents:   strings.Fields(fields[1]),
		Author:    schema.Identity{Name: fields[2], Email: fields[3]},
		Committer: schema.Identity{Name: fields[4], Email: fields[5]},
		Timestamp: ts.UTC(),
		Message:   strings.TrimRight(fields[7], "\n"),
	}, nil
}

// ParseLog reads the output of a log run with contract.LogFormat and --patch,
// calling fn once per commit in stream order.
func ParseLog(r io.Reader, fn func(LogEntry) error) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var current *entryBuilder
	var header strings.Builder
	inHeader := false

	emit := func() error {
		if current == nil {
			return nil
		}
		entry := current.finish()
		current = nil
		return fn(entry)
	}

	for {
		raw, readErr := br.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return readErr
		}
		line := strings.TrimSuffix(strings.TrimSuffix(raw, "\n"), "\r")

		if !inHeader && strings.HasPrefix(line, contract.LogRecordStart) {
			if err := emit(); err != nil {
				return err
			}
			header.Reset()
			line = strings.TrimPrefix(line, contract.LogRecordStart)
			inHeader = true
		}
		if inHeader {
			if i := strings.Index(line, contract.LogHeaderEnd); i >= 0 {
				header.WriteString(line[:i])
				entry, err := parseHeader(header.String())
				if err != nil {
					return err
				}
				current = &entryBuilder{entry: entry}
				inHeader = false
			} else {
				header.WriteString(line)
				header.WriteByte('\n')
			}
		} else if current != nil {
			current.patchLine(line)
		}

		if errors.Is(readErr, io.EOF) {
			break
		}
	}
	if inHeader {
		return fmt.Errorf("log stream ended inside a commit header")
	}
	return emit()
}
