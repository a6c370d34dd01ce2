package automation

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ruleFile is the on-disk shape of the persisted rule collection.
type ruleFile struct {
	Rules []*Rule `yaml:"rules"`
}

// FileStore persists the rule collection as a single YAML document.
// Every save overwrites the whole collection; the engine reads the whole
// collection back on load. Writes go through a temp file and rename so a
// crash mid-write never leaves a torn rule file.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed persistence contract at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the rules file location.
func (f *FileStore) Path() string { return f.path }

// LoadRules reads the persisted collection. A missing file is an empty
// collection, not an error.
func (f *FileStore) LoadRules() ([]*Rule, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	return file.Rules, nil
}

// SaveRules writes the full collection.
func (f *FileStore) SaveRules(rules []*Rule) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create rules directory: %w", err)
	}

	data, err := yaml.Marshal(&ruleFile{Rules: rules})
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write rules file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace rules file: %w", err)
	}
	return nil
}
