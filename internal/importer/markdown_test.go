package importer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hollow-oak/mnemo/internal/embed"
	"github.com/hollow-oak/mnemo/internal/engine"
)

func stubEmbed(dim int) embed.Func {
	return func(ctx context.Context, text string) ([]float32, error) {
		var sum int
		for _, r := range text {
			sum += int(r)
		}
		// Offset every dimension uniformly by a hash of the full text, not
		// just text length or a single dimension, so two different-content
		// inputs of similar length still land far enough apart in L2
		// distance to clear the admission policy's thresholds.
		offset := float32(sum) * 0.001
		v := make([]float32, dim)
		for i := range v {
			v[i] = float32(i)/float32(dim) + offset
		}
		return v, nil
	}
}

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "mnemo.db")
	cfg := engine.DefaultConfig(dbPath)
	eng, err := engine.New(cfg, stubEmbed(cfg.Store.EmbedDim))
	if err != nil {
		t.Fatalf("engine.New() failed: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Rust Ownership":       "rust-ownership",
		"  leading/trailing  ": "leading-trailing",
		"a__b--c":              "a-b-c",
		"already-slug":         "already-slug",
		"!!!":                  "",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFilenameForEmptySlugFallsBack(t *testing.T) {
	if got := FilenameFor("!!!"); got != "memory.md" {
		t.Errorf("FilenameFor(%q) = %q, want %q", "!!!", got, "memory.md")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newTestEngine(t)

	if _, err := src.Memorize(ctx, "alpha", "Rust is a systems language", []string{"lang"}); err != nil {
		t.Fatalf("Memorize(alpha) failed: %v", err)
	}
	if _, err := src.Memorize(ctx, "gamma", "Completely unrelated note about gardening", nil); err != nil {
		t.Fatalf("Memorize(gamma) failed: %v", err)
	}
	if err := src.Link(ctx, "alpha", "gamma", "related"); err != nil {
		t.Fatalf("Link() failed: %v", err)
	}

	dir := t.TempDir()
	written, err := Export(ctx, src, dir, nil)
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if len(written) != 2 {
		t.Fatalf("Export() wrote %d files, want 2", len(written))
	}

	alphaPath := filepath.Join(dir, "alpha.md")
	raw, err := os.ReadFile(alphaPath)
	if err != nil {
		t.Fatalf("expected export at %s: %v", alphaPath, err)
	}
	if !strings.Contains(string(raw), "mnemonic: alpha") {
		t.Errorf("exported file missing mnemonic frontmatter: %s", raw)
	}
	if !strings.Contains(string(raw), "target:") {
		t.Errorf("exported file missing link frontmatter: %s", raw)
	}

	dst := newTestEngine(t)
	result, err := Import(ctx, dst, dir)
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if result.Created != 2 {
		t.Errorf("Created = %d, want 2", result.Created)
	}
	if len(result.Failed) != 0 {
		t.Errorf("unexpected failures: %v", result.Failed)
	}

	links, err := dst.GetLinks(ctx, "alpha")
	if err != nil {
		t.Fatalf("GetLinks() failed: %v", err)
	}
	if len(links) != 1 || links[0].TargetMnemonic != "gamma" {
		t.Errorf("GetLinks(alpha) = %+v, want one edge to gamma", links)
	}

	// Re-importing the same directory must report everything unchanged.
	result2, err := Import(ctx, dst, dir)
	if err != nil {
		t.Fatalf("second Import() failed: %v", err)
	}
	if result2.Unchanged != 2 {
		t.Errorf("second import Unchanged = %d, want 2", result2.Unchanged)
	}
	if result2.Created != 0 || result2.Updated != 0 {
		t.Errorf("second import Created=%d Updated=%d, want 0,0", result2.Created, result2.Updated)
	}
}

func TestImportMissingUUIDFails(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	dir := t.TempDir()
	bad := "---\nmnemonic: no-uuid\n---\n\nbody\n"
	if err := os.WriteFile(filepath.Join(dir, "bad.md"), []byte(bad), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	result, err := Import(ctx, eng, dir)
	if err != nil {
		t.Fatalf("Import() returned a hard error, want per-file failure: %v", err)
	}
	if len(result.Failed) != 1 {
		t.Fatalf("Failed = %d entries, want 1", len(result.Failed))
	}
}
