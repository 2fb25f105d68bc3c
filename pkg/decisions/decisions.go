// Package decisions persists ambiguity/conflict decisions across runs, so
// an operator (or the interactive arbiter, once) only has to break a tie
// once per corpus: which processor produces an ambiguous class, and which
// rule wins an equal-order producer conflict. It implements both
// pkg/resolve.DecisionStore and pkg/rules.DecisionStore, per spec.md §6's
// "ambiguity-resolution decisions remembered under the corpus directory".
package decisions

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/sparv-lang/engine/pkg/procio"
)

// conflictKey identifies one equal-order producer conflict. Per the Open
// Question decision on same-order-different-language rules, a remembered
// winner is keyed by (output set, language) so a choice made for one
// language never leaks into a run over a different one.
type conflictKey struct {
	Output   string `yaml:"output"`
	Language string `yaml:"language"`
	Variety  string `yaml:"variety"`
}

type conflictEntry struct {
	conflictKey `yaml:",inline"`
	Rule        string `yaml:"rule"`
}

type fileData struct {
	Classes   map[string]string `yaml:"classes"`
	Conflicts []conflictEntry   `yaml:"conflicts"`
}

// FileStore is the default decision store: a single YAML file under the
// corpus's .sparv directory, published atomically on every write via
// pkg/procio so a crash mid-write never corrupts a previous decision.
type FileStore struct {
	path string

	mu   sync.Mutex
	data fileData
}

// NewFileStore loads path if it exists, or starts with an empty decision
// set otherwise (there being no prior decisions is not an error).
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, data: fileData{Classes: map[string]string{}}}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("decisions: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("decisions: parse %s: %w", path, err)
	}
	if s.data.Classes == nil {
		s.data.Classes = map[string]string{}
	}
	return s, nil
}

// ClassBinding implements pkg/resolve.DecisionStore.
func (s *FileStore) ClassBinding(class string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.data.Classes[class]
	return id, ok
}

// RecordClassBinding implements pkg/resolve.DecisionStore.
func (s *FileStore) RecordClassBinding(class, processorID string) error {
	s.mu.Lock()
	s.data.Classes[class] = processorID
	s.mu.Unlock()
	return s.persist()
}

// ConflictWinner implements pkg/rules.DecisionStore.
func (s *FileStore) ConflictWinner(output, language, variety string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := conflictKey{Output: output, Language: language, Variety: variety}
	for _, c := range s.data.Conflicts {
		if c.conflictKey == key {
			return c.Rule, true
		}
	}
	return "", false
}

// RecordConflictWinner implements pkg/rules.DecisionStore.
func (s *FileStore) RecordConflictWinner(output, language, variety, ruleID string) error {
	s.mu.Lock()
	key := conflictKey{Output: output, Language: language, Variety: variety}
	replaced := false
	for i, c := range s.data.Conflicts {
		if c.conflictKey == key {
			s.data.Conflicts[i].Rule = ruleID
			replaced = true
			break
		}
	}
	if !replaced {
		s.data.Conflicts = append(s.data.Conflicts, conflictEntry{conflictKey: key, Rule: ruleID})
	}
	s.mu.Unlock()
	return s.persist()
}

// persist must be called without s.mu held.
func (s *FileStore) persist() error {
	s.mu.Lock()
	out, err := yaml.Marshal(s.data)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("decisions: marshal: %w", err)
	}
	return procio.PublishAtomic(s.path, out)
}
