// Package importer implements the Markdown interchange format used by
// export/import: one file per memory, a YAML frontmatter block carrying
// identity and links, and a free-form body.
package importer

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hollow-oak/mnemo/internal/engine"
	"github.com/hollow-oak/mnemo/pkg/types"
)

// frontmatterLink is one entry of a file's "links" list.
type frontmatterLink struct {
	Target string `yaml:"target"`
	Type   string `yaml:"type"`
}

// frontmatter is the YAML block delimited by "---" lines at the top of
// every exported file.
type frontmatter struct {
	UUID     string            `yaml:"uuid"`
	Mnemonic string            `yaml:"mnemonic"`
	Tags     []string          `yaml:"tags,omitempty"`
	Links    []frontmatterLink `yaml:"links,omitempty"`
}

// ImportResult tallies what happened across every file in a directory.
type ImportResult struct {
	Created   int
	Updated   int
	Unchanged int
	Failed    []FileError
}

// FileError records a single file's import failure; import continues with
// the remaining files rather than aborting the whole batch.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

var slugNonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s, replaces runs of non-alphanumeric characters with a
// single hyphen, and trims leading/trailing hyphens.
func Slugify(s string) string {
	lower := strings.ToLower(s)
	slug := slugNonAlnum.ReplaceAllString(lower, "-")
	return strings.Trim(slug, "-")
}

// FilenameFor returns the slugified filename (with .md suffix) a mnemonic
// exports to.
func FilenameFor(mnemonic string) string {
	slug := Slugify(mnemonic)
	if slug == "" {
		slug = "memory"
	}
	return slug + ".md"
}

// Export writes one Markdown file per memory into dir, optionally
// restricted to memories carrying at least one of tagFilter (all memories
// when tagFilter is empty). It returns the set of paths written.
func Export(ctx context.Context, eng *engine.Engine, dir string, tagFilter []string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("importer: failed to create export directory: %w", err)
	}

	memories, err := eng.AllMemories(ctx)
	if err != nil {
		return nil, fmt.Errorf("importer: failed to list memories for export: %w", err)
	}
	links, err := eng.GetAllLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("importer: failed to list links for export: %w", err)
	}

	byID := make(map[int64]*types.Memory, len(memories))
	for i := range memories {
		byID[memories[i].ID] = &memories[i]
	}
	linksByUUID := make(map[string][]frontmatterLink)
	for _, l := range links {
		src, ok := byID[l.SourceID]
		if !ok {
			continue
		}
		tgt, ok := byID[l.TargetID]
		if !ok {
			continue
		}
		linksByUUID[src.UUID] = append(linksByUUID[src.UUID], frontmatterLink{Target: tgt.UUID, Type: string(l.Type)})
	}

	filterSet := make(map[string]bool, len(tagFilter))
	for _, t := range tagFilter {
		filterSet[t] = true
	}

	var written []string
	for _, m := range memories {
		if len(filterSet) > 0 && !anyTagInFilter(m.Tags, filterSet) {
			continue
		}

		fm := frontmatter{UUID: m.UUID, Mnemonic: m.Mnemonic, Tags: m.Tags, Links: linksByUUID[m.UUID]}
		fmBytes, err := yaml.Marshal(fm)
		if err != nil {
			return written, fmt.Errorf("importer: failed to marshal frontmatter for %q: %w", m.Mnemonic, err)
		}

		var b strings.Builder
		b.WriteString("---\n")
		b.Write(fmBytes)
		b.WriteString("---\n\n")
		b.WriteString(m.Content)
		b.WriteString("\n")

		path := filepath.Join(dir, FilenameFor(m.Mnemonic))
		if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
			return written, fmt.Errorf("importer: failed to write %q: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}

func anyTagInFilter(tags []string, filter map[string]bool) bool {
	for _, t := range tags {
		if filter[t] {
			return true
		}
	}
	return false
}

// parsedFile is one Markdown file split into its identity/links and body.
type parsedFile struct {
	path string
	fm   frontmatter
	body string
}

// parseFile splits a file's frontmatter from its body and validates the
// required identity fields are present.
func parseFile(raw []byte, path string) (*parsedFile, error) {
	fm, body, err := splitFrontmatter(string(raw))
	if err != nil {
		return nil, fmt.Errorf("malformed frontmatter: %w", err)
	}
	if fm.UUID == "" {
		return nil, fmt.Errorf("frontmatter is missing uuid")
	}
	if fm.Mnemonic == "" {
		return nil, fmt.Errorf("frontmatter is missing mnemonic")
	}
	return &parsedFile{path: path, fm: fm, body: strings.TrimSpace(body)}, nil
}

// splitFrontmatter separates a leading "---"-delimited YAML block from the
// remaining Markdown body.
func splitFrontmatter(text string) (frontmatter, string, error) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return frontmatter{}, "", err
	}

	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return frontmatter{}, "", fmt.Errorf("missing frontmatter delimiter")
	}

	closeIdx := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			closeIdx = i
			break
		}
	}
	if closeIdx == -1 {
		return frontmatter{}, "", fmt.Errorf("unterminated frontmatter block")
	}

	var fm frontmatter
	fmText := strings.Join(lines[1:closeIdx], "\n")
	if err := yaml.Unmarshal([]byte(fmText), &fm); err != nil {
		return frontmatter{}, "", fmt.Errorf("invalid YAML: %w", err)
	}

	body := strings.Join(lines[closeIdx+1:], "\n")
	return fm, body, nil
}

// Import reads every *.md file in dir (non-recursive) and upserts the
// memories it describes through the import-row path, keyed by UUID rather
// than filename: an existing UUID with an unchanged mnemonic and body counts
// "unchanged" (its stored tags are left as they are), a changed mnemonic or
// body counts "updated", and an unseen UUID counts "created". Import-row bypasses the write-time
// auto-merge / auto-link admission policy entirely, so importing reproduces
// exactly the rows and links the source described. Links are resolved and
// inserted in a second pass, once every file's row exists. Per-file
// failures are recorded and do not abort the batch.
func Import(ctx context.Context, eng *engine.Engine, dir string) (*ImportResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("importer: failed to read import directory: %w", err)
	}

	result := &ImportResult{}
	var parsed []*parsedFile

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			result.Failed = append(result.Failed, FileError{Path: path, Err: err})
			continue
		}
		pf, err := parseFile(raw, path)
		if err != nil {
			result.Failed = append(result.Failed, FileError{Path: path, Err: err})
			continue
		}
		parsed = append(parsed, pf)
	}

	uuidToMnemonic := make(map[string]string, len(parsed))
	for _, pf := range parsed {
		uuidToMnemonic[pf.fm.UUID] = pf.fm.Mnemonic

		created, updated, err := eng.ImportRow(ctx, pf.fm.UUID, pf.fm.Mnemonic, pf.body, pf.fm.Tags)
		if err != nil {
			result.Failed = append(result.Failed, FileError{Path: pf.path, Err: err})
			continue
		}
		switch {
		case created:
			result.Created++
		case updated:
			result.Updated++
		default:
			result.Unchanged++
		}
	}

	for _, pf := range parsed {
		for _, link := range pf.fm.Links {
			targetMnemonic, ok := uuidToMnemonic[link.Target]
			if !ok {
				target, err := findMnemonicByUUID(ctx, eng, link.Target)
				if err != nil {
					result.Failed = append(result.Failed, FileError{Path: pf.path, Err: fmt.Errorf("link target %s: %w", link.Target, err)})
					continue
				}
				targetMnemonic = target
			}
			if err := eng.Link(ctx, pf.fm.Mnemonic, targetMnemonic, types.LinkType(link.Type)); err != nil {
				result.Failed = append(result.Failed, FileError{Path: pf.path, Err: err})
			}
		}
	}

	return result, nil
}

// findMnemonicByUUID scans every memory for a matching UUID, used when a
// link's target was not among the files imported in this batch (it already
// existed in the store).
func findMnemonicByUUID(ctx context.Context, eng *engine.Engine, uuid string) (string, error) {
	all, err := eng.AllMemories(ctx)
	if err != nil {
		return "", err
	}
	for _, m := range all {
		if m.UUID == uuid {
			return m.Mnemonic, nil
		}
	}
	return "", fmt.Errorf("no memory with uuid %s", uuid)
}
