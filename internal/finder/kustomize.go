package finder

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// newTagRegex matches a Kustomize image tag override such as "newTag: v2" or "- newTag: 'v2'".
var newTagRegex = regexp.MustCompile(`^\s*(?:-\s+)?newTag:\s*["']?(\w[\w.-]*)["']?\s*(?:#.*)?$`)

// kustomizeKinds are the document kinds whose images list Kustomize applies.
var kustomizeKinds = map[string]bool{
	"Kustomization": true,
	"Component":     true,
}

// KustomizeFinder reconstructs references from a Kustomize images entry.
// The added line only carries the tag, so the finder reads the target file,
// locates the tag's node and takes the image name from the same mapping.
type KustomizeFinder struct {
	Endpoints []string
	Fs        afero.Fs
	BaseDir   string

	// MaxFileSize caps the target file size. Zero means DefaultMaxFileSize.
	MaxFileSize int64
}

// Name implements LineFinder.
func (k *KustomizeFinder) Name() string {
	return "kustomize"
}

// FindLine implements LineFinder.
func (k *KustomizeFinder) FindLine(change Change) (Match, bool, error) {
	m := newTagRegex.FindStringSubmatch(change.Content)
	if m == nil {
		return Match{}, false, nil
	}
	tag := m[1]

	data, err := k.readTarget(change.File)
	if err != nil {
		return Match{}, false, err
	}

	docs, err := decodeDocuments(data)
	if err != nil {
		return Match{}, false, fmt.Errorf("%w: %s: %w", ErrExtraction, change.File, err)
	}

	for _, doc := range docs {
		if !kustomizeKinds[scalarValue(root(doc), "kind")] {
			continue
		}

		mapping := findTagMapping(doc, change.Line, tag)
		if mapping == nil {
			continue
		}

		name := scalarValue(mapping, "newName")
		if name == "" {
			name = scalarValue(mapping, "name")
		}
		if name == "" {
			return Match{}, false, nil
		}

		uri := name + ":" + tag
		if !k.routable(uri) {
			return Match{}, false, nil
		}
		return Match{URI: uri, File: change.File, Line: change.Line}, true, nil
	}

	return Match{}, false, nil
}

// readTarget reads the diff's target file, refusing files above the size ceiling.
func (k *KustomizeFinder) readTarget(file string) ([]byte, error) {
	path := filepath.Join(k.BaseDir, file)

	info, err := k.Fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	limit := k.MaxFileSize
	if limit <= 0 {
		limit = DefaultMaxFileSize
	}
	if info.Size() > limit {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrExtraction, file, info.Size(), limit)
	}

	data, err := afero.ReadFile(k.Fs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	return data, nil
}

func (k *KustomizeFinder) routable(uri string) bool {
	for _, endpoint := range k.Endpoints {
		if strings.HasPrefix(uri, endpoint+"/") {
			return true
		}
	}
	return false
}

// decodeDocuments parses every YAML document in data.
func decodeDocuments(data []byte) ([]*yaml.Node, error) {
	var docs []*yaml.Node

	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, &doc)
	}
}

// findTagMapping returns the mapping holding a value scalar equal to tag on line.
func findTagMapping(doc *yaml.Node, line int, tag string) *yaml.Node {
	var found *yaml.Node

	walk(doc, nil, func(node, parent *yaml.Node) walkAction {
		if node.Kind != yaml.ScalarNode || node.Line != line || node.Value != tag {
			return walkContinue
		}
		if parent == nil || parent.Kind != yaml.MappingNode || !isMappingValue(parent, node) {
			return walkContinue
		}
		found = parent
		return walkStop
	})

	return found
}

type walkAction int

const (
	walkContinue walkAction = iota
	walkStop
)

// walk visits node and its descendants depth-first until visit returns walkStop.
func walk(node, parent *yaml.Node, visit func(node, parent *yaml.Node) walkAction) walkAction {
	if visit(node, parent) == walkStop {
		return walkStop
	}
	for _, child := range node.Content {
		if walk(child, node, visit) == walkStop {
			return walkStop
		}
	}
	return walkContinue
}

// root unwraps a document node to its top-level content.
func root(doc *yaml.Node) *yaml.Node {
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		return doc.Content[0]
	}
	return doc
}

// isMappingValue reports whether node sits in a value position of mapping.
func isMappingValue(mapping, node *yaml.Node) bool {
	for i := 1; i < len(mapping.Content); i += 2 {
		if mapping.Content[i] == node {
			return true
		}
	}
	return false
}

// scalarValue returns the scalar value stored under key in mapping, or "".
func scalarValue(mapping *yaml.Node, key string) string {
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return ""
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		k, v := mapping.Content[i], mapping.Content[i+1]
		if k.Value == key && v.Kind == yaml.ScalarNode {
			return v.Value
		}
	}
	return ""
}
