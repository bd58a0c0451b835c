// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package imagefolder

import (
	"os"
	"path/filepath"
	"slices"

	"github.com/gomlx/foodclassifier/internal/runerr"
)

// Vocabulary maps class names to their indices. Indices follow the lexical order of the names.
type Vocabulary struct {
	names []string
	index map[string]int
}

// NewVocabulary creates a Vocabulary from the given class names, sorting them.
func NewVocabulary(names []string) *Vocabulary {
	v := &Vocabulary{
		names: slices.Clone(names),
		index: make(map[string]int, len(names)),
	}
	slices.Sort(v.names)
	v.names = slices.Compact(v.names)
	for ii, name := range v.names {
		v.index[name] = ii
	}
	return v
}

// ReadVocabulary lists the class subdirectories of splitDir.
//
// It returns a data error if there are no classes.
func ReadVocabulary(splitDir string) (*Vocabulary, error) {
	entries, err := os.ReadDir(splitDir)
	if err != nil {
		return nil, runerr.Configf("reading classes from %q: %v", splitDir, err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return nil, runerr.Dataf("no class subdirectories in %q", splitDir)
	}
	return NewVocabulary(names), nil
}

// Len returns the number of classes.
func (v *Vocabulary) Len() int { return len(v.names) }

// Names returns the class names in index order. The returned slice must not be modified.
func (v *Vocabulary) Names() []string { return v.names }

// Name of the class with the given index.
func (v *Vocabulary) Name(idx int) string { return v.names[idx] }

// Index of the class name, and whether it is known.
func (v *Vocabulary) Index(name string) (int, bool) {
	idx, found := v.index[name]
	return idx, found
}

// Equal returns whether both vocabularies hold the same classes.
func (v *Vocabulary) Equal(other *Vocabulary) bool {
	return slices.Equal(v.names, other.names)
}

// Example is one labeled image file.
type Example struct {
	Path  string
	Label int
}

// ListExamples lists the images of splitDir labeled with vocab, in class index order and, within a class,
// in lexical file order. That order is stable, so predictions over an unshuffled Dataset can be aligned
// back to the examples.
//
// The split must have exactly the classes of vocab, otherwise it returns a data error.
func ListExamples(splitDir string, vocab *Vocabulary) ([]Example, error) {
	splitVocab, err := ReadVocabulary(splitDir)
	if err != nil {
		return nil, err
	}
	if !splitVocab.Equal(vocab) {
		return nil, runerr.Dataf("classes in %q are %q, but training classes are %q",
			splitDir, splitVocab.Names(), vocab.Names())
	}
	var examples []Example
	for label, name := range vocab.Names() {
		err = WalkImages(filepath.Join(splitDir, name), func(path string) error {
			examples = append(examples, Example{Path: path, Label: label})
			return nil
		})
		if err != nil {
			return nil, runerr.Configf("listing images of class %q in %q: %v", name, splitDir, err)
		}
	}
	return examples, nil
}
