// Package ingest walks a markdown docs tree, normalizes documents into
// graph payloads and orchestrates the write pipeline with quality,
// cache and normalization gates.
package ingest

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lattice-docs/graphrag/pkg/logger"
)

// Document is a raw collected markdown file, front matter split from
// the body.
type Document struct {
	SourcePath   string
	RelativePath string
	Locale       string
	FrontMatter  map[string]any
	Content      string
}

// CollectParams filter the docs tree walk.
type CollectParams struct {
	DocsRoot      string
	Locale        string
	IncludeDrafts bool
}

const frontMatterDelimiter = "---"

func splitFrontMatter(raw string) (map[string]any, string, error) {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	if !strings.HasPrefix(normalized, frontMatterDelimiter+"\n") {
		return map[string]any{}, normalized, nil
	}

	rest := normalized[len(frontMatterDelimiter)+1:]
	end := strings.Index(rest, "\n"+frontMatterDelimiter)
	if end < 0 {
		return map[string]any{}, normalized, nil
	}

	meta := map[string]any{}
	if err := yaml.Unmarshal([]byte(rest[:end]), &meta); err != nil {
		return nil, "", fmt.Errorf("parse front matter: %w", err)
	}

	body := rest[end+len(frontMatterDelimiter)+1:]
	body = strings.TrimPrefix(body, "\n")
	return meta, body, nil
}

func detectLocale(relativePath string) string {
	segments := strings.Split(filepath.ToSlash(relativePath), "/")
	if len(segments) > 1 {
		return segments[0]
	}
	return "default"
}

func isDraft(meta map[string]any) bool {
	draft, ok := meta["draft"].(bool)
	return ok && draft
}

// Collect walks DocsRoot for markdown files, parses front matter and
// applies the locale and draft filters.
func Collect(params CollectParams) ([]*Document, error) {
	root := params.DocsRoot
	if root == "" {
		root = "docs"
	}

	var documents []*Document
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if strings.HasPrefix(entry.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(entry.Name(), ".") || !strings.HasSuffix(entry.Name(), ".md") {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)

		locale := detectLocale(relPath)
		if params.Locale != "" && locale != params.Locale {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		meta, body, err := splitFrontMatter(string(raw))
		if err != nil {
			return fmt.Errorf("%s: %w", relPath, err)
		}
		if !params.IncludeDrafts && isDraft(meta) {
			return nil
		}

		documents = append(documents, &Document{
			SourcePath:   path,
			RelativePath: relPath,
			Locale:       locale,
			FrontMatter:  meta,
			Content:      body,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect documents: %w", err)
	}
	return documents, nil
}

// ReadFilterFile loads a newline-delimited document id set. A missing
// file logs a warning and yields an empty set.
func ReadFilterFile(path string) (map[string]struct{}, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("Filter file not found, ignoring", "path", path)
			return map[string]struct{}{}, nil
		}
		return nil, err
	}
	defer file.Close()

	set := map[string]struct{}{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			set[line] = struct{}{}
		}
	}
	return set, scanner.Err()
}
