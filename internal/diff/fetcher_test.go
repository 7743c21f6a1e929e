package diff

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeSource struct {
	files []File
	err   error
}

func (f *fakeSource) FetchDiff(ctx context.Context, owner, repo string, pull int, headCommit string) ([]File, error) {
	return f.files, f.err
}

func file(p, body string) File {
	return File{
		Path:   p,
		Change: ChangeModified,
		Hunks:  []Hunk{{NewStart: 1, NewLines: 1, Body: body}},
	}
}

func TestFetch_Normalizes(t *testing.T) {
	src := &fakeSource{files: []File{file("main.py", "+print('hi')\n"), file("lib.go", "+x := 1\n")}}
	f := NewFetcher(src, Limits{})

	files, err := f.Fetch(context.Background(), "o", "r", 1, "abc", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("files = %d, want 2", len(files))
	}
	if files[0].Language != "python" || files[1].Language != "go" {
		t.Errorf("languages = %s, %s", files[0].Language, files[1].Language)
	}
	if files[0].Size == 0 {
		t.Error("expected size to be computed")
	}
}

func TestFetch_ExclusionGlobs(t *testing.T) {
	src := &fakeSource{files: []File{
		file("vendor/dep/x.go", "+a\n"),
		file("app.min.js", "+b\n"),
		file("main.go", "+c\n"),
	}}
	f := NewFetcher(src, Limits{})

	files, err := f.Fetch(context.Background(), "o", "r", 1, "abc", []string{"vendor/*", "*.min.js"})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Path != "main.go" {
		t.Errorf("unexpected files after exclusion: %+v", files)
	}
}

func TestFetch_PerFileTruncation(t *testing.T) {
	big := strings.Repeat("+aaaaaaaaa\n", 100)
	src := &fakeSource{files: []File{file("big.py", big), file("small.py", "+b\n")}}
	f := NewFetcher(src, Limits{MaxFileBytes: 50})

	files, err := f.Fetch(context.Background(), "o", "r", 1, "abc", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("truncated file must be kept, got %d files", len(files))
	}
	if !files[0].Truncated {
		t.Error("big.py should be flagged truncated")
	}
	if files[0].Size > 50 {
		t.Errorf("truncated size = %d, want <= 50", files[0].Size)
	}
	if files[1].Truncated {
		t.Error("small.py should not be truncated")
	}
}

func TestFetch_HardCeiling(t *testing.T) {
	big := strings.Repeat("x", 200)
	src := &fakeSource{files: []File{file("a.py", big), file("b.py", big)}}
	f := NewFetcher(src, Limits{MaxFileBytes: 100, MaxTotalBytes: 300})

	_, err := f.Fetch(context.Background(), "o", "r", 1, "abc", nil)
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
}

func TestFetch_SourceFailureIsTransient(t *testing.T) {
	src := &fakeSource{err: errors.New("connection reset")}
	f := NewFetcher(src, Limits{})

	_, err := f.Fetch(context.Background(), "o", "r", 1, "abc", nil)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestContext_IncludesTruncationCaveat(t *testing.T) {
	f := file("a.py", "+x\n")
	f.Truncated = true
	got := Context([]File{f})
	if !strings.Contains(got, "a.py") || !strings.Contains(got, "truncated") {
		t.Errorf("unexpected context:\n%s", got)
	}
}

func TestDetectLanguage(t *testing.T) {
	cases := map[string]string{
		"a/b/c.py":  "python",
		"x.ts":      "typescript",
		"Makefile":  "",
		"query.SQL": "sql",
	}
	for p, want := range cases {
		if got := DetectLanguage(p); got != want {
			t.Errorf("DetectLanguage(%s) = %s, want %s", p, got, want)
		}
	}
}
