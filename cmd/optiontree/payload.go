package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/sergi/go-diff/diffmatchpatch"
	"gopkg.in/yaml.v3"

	"optiontree/model"
)

// payloadDoc is the object form of a payload file.
type payloadDoc struct {
	Children []model.ChildDescription `json:"children" yaml:"children"`
}

// readPayload reads desired children from a YAML or JSON file, or from stdin
// when path is "-". The file holds either a list of children or an object
// with a children key.
func readPayload(path string, stdin io.Reader) ([]model.ChildDescription, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	isJSON := strings.EqualFold(filepath.Ext(path), ".json") ||
		(path == "-" && len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{'))

	if isJSON {
		if len(trimmed) > 0 && trimmed[0] == '{' {
			var doc payloadDoc
			if err := json.Unmarshal(trimmed, &doc); err != nil {
				return nil, fmt.Errorf("parsing payload: %w", err)
			}
			return doc.Children, nil
		}
		var children []model.ChildDescription
		if err := json.Unmarshal(trimmed, &children); err != nil {
			return nil, fmt.Errorf("parsing payload: %w", err)
		}
		return children, nil
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("parsing payload: %w", err)
	}
	if len(node.Content) == 0 {
		return []model.ChildDescription{}, nil
	}
	if node.Content[0].Kind == yaml.MappingNode {
		var doc payloadDoc
		if err := node.Decode(&doc); err != nil {
			return nil, fmt.Errorf("parsing payload: %w", err)
		}
		return doc.Children, nil
	}
	var children []model.ChildDescription
	if err := node.Decode(&children); err != nil {
		return nil, fmt.Errorf("parsing payload: %w", err)
	}
	return children, nil
}

// renderDiff returns a line diff of two dumps, one marker column per line.
func renderDiff(before, after string) string {
	if before == after {
		return "(no differences)\n"
	}
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var out strings.Builder
	for _, d := range diffs {
		marker := "  "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			marker = "+ "
		case diffmatchpatch.DiffDelete:
			marker = "- "
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			out.WriteString(marker)
			out.WriteString(line)
			if !strings.HasSuffix(line, "\n") {
				out.WriteByte('\n')
			}
		}
	}
	return out.String()
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}
