// Package diff retrieves and normalizes the changed-file set for a
// review target. The upstream platform is abstracted behind Source so
// the pipeline can be exercised against fakes.
package diff

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrTooLarge means the entire diff exceeds the absolute hard
	// ceiling. Fatal for the session, never retried.
	ErrTooLarge = errors.New("diff exceeds hard size ceiling")

	// ErrSourceUnavailable wraps transient upstream failures (network,
	// auth). Retryable by the dispatcher.
	ErrSourceUnavailable = errors.New("diff source unavailable")
)

// ChangeType describes how a file changed in the pull request.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
	ChangeRenamed  ChangeType = "renamed"
)

// Hunk is one unified-diff hunk.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Body     string
}

// File is one changed file with its hunks.
type File struct {
	Path      string
	Change    ChangeType
	Language  string
	Hunks     []Hunk
	Size      int // total bytes of hunk bodies
	Truncated bool
}

// Source fetches the raw changed-file set from the platform API.
// Implementations should return errors wrapping ErrSourceUnavailable for
// transient failures.
type Source interface {
	FetchDiff(ctx context.Context, owner, repo string, pull int, headCommit string) ([]File, error)
}

// Limits caps diff sizes. MaxFileBytes truncates individual files;
// MaxTotalBytes is the absolute hard ceiling for the whole diff.
type Limits struct {
	MaxFileBytes  int
	MaxTotalBytes int
}

// Fetcher normalizes a Source's output: exclusion globs applied, files
// over the per-file cap truncated (flagged, never dropped), languages
// filled in from file extensions.
type Fetcher struct {
	source Source
	limits Limits
}

// NewFetcher creates a fetcher over the given source.
func NewFetcher(source Source, limits Limits) *Fetcher {
	return &Fetcher{source: source, limits: limits}
}

// Fetch returns the ordered, normalized changed-file set.
func (f *Fetcher) Fetch(ctx context.Context, owner, repo string, pull int, headCommit string, excluded []string) ([]File, error) {
	files, err := f.source.FetchDiff(ctx, owner, repo, pull, headCommit)
	if err != nil {
		if errors.Is(err, ErrSourceUnavailable) || errors.Is(err, ErrTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	total := 0
	out := make([]File, 0, len(files))
	for _, file := range files {
		if matchesAny(file.Path, excluded) {
			continue
		}
		file.Size = hunkBytes(file.Hunks)
		total += file.Size
		if f.limits.MaxFileBytes > 0 && file.Size > f.limits.MaxFileBytes {
			file = truncate(file, f.limits.MaxFileBytes)
		}
		if file.Language == "" {
			file.Language = DetectLanguage(file.Path)
		}
		out = append(out, file)
	}

	// The hard ceiling applies to the full diff before per-file
	// truncation; an oversized PR fails rather than silently shrinking.
	if f.limits.MaxTotalBytes > 0 && total > f.limits.MaxTotalBytes {
		return nil, fmt.Errorf("%w: %d bytes over %d", ErrTooLarge, total, f.limits.MaxTotalBytes)
	}

	return out, nil
}

// truncate trims hunks until the file fits the cap, flagging the file so
// downstream comment generation can caveat its findings.
func truncate(file File, maxBytes int) File {
	kept := make([]Hunk, 0, len(file.Hunks))
	size := 0
	for _, h := range file.Hunks {
		if size+len(h.Body) > maxBytes {
			remaining := maxBytes - size
			if remaining > 0 {
				h.Body = h.Body[:remaining]
				kept = append(kept, h)
				size += remaining
			}
			break
		}
		size += len(h.Body)
		kept = append(kept, h)
	}
	file.Hunks = kept
	file.Size = size
	file.Truncated = true
	return file
}

func hunkBytes(hunks []Hunk) int {
	n := 0
	for _, h := range hunks {
		n += len(h.Body)
	}
	return n
}

// matchesAny checks the path (and its base name) against exclusion
// globs. Patterns ending in "/*" also match nested paths.
func matchesAny(filePath string, globs []string) bool {
	for _, g := range globs {
		if ok, _ := path.Match(g, filePath); ok {
			return true
		}
		if ok, _ := path.Match(g, path.Base(filePath)); ok {
			return true
		}
		if strings.HasSuffix(g, "/*") {
			if strings.HasPrefix(filePath, strings.TrimSuffix(g, "*")) {
				return true
			}
		}
	}
	return false
}

// DetectLanguage maps a file extension to an analyzer language key.
func DetectLanguage(filePath string) string {
	switch strings.ToLower(path.Ext(filePath)) {
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".js", ".jsx", ".mjs":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	case ".java":
		return "java"
	case ".rb":
		return "ruby"
	case ".rs":
		return "rust"
	case ".sql":
		return "sql"
	case ".sh", ".bash":
		return "shell"
	case ".c", ".h":
		return "c"
	case ".cc", ".cpp", ".hpp":
		return "cpp"
	default:
		return ""
	}
}

// Context renders the changed files as a unified-diff style block for
// the AI backend, with a caveat line on truncated files.
func Context(files []File) string {
	var sb strings.Builder
	for _, f := range files {
		fmt.Fprintf(&sb, "--- %s (%s)\n", f.Path, f.Change)
		if f.Truncated {
			sb.WriteString("(diff truncated at size cap)\n")
		}
		for _, h := range f.Hunks {
			fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldLines, h.NewStart, h.NewLines)
			sb.WriteString(h.Body)
			if !strings.HasSuffix(h.Body, "\n") {
				sb.WriteString("\n")
			}
		}
	}
	return sb.String()
}

// TotalSize sums the byte size of all files in the set.
func TotalSize(files []File) int {
	n := 0
	for _, f := range files {
		n += f.Size
	}
	return n
}
