package file

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/custodia-labs/covera/internal/core/ports/driven"
	"github.com/custodia-labs/covera/internal/logger"
)

// Ensure PromptStore implements the interface.
var _ driven.PromptStore = (*PromptStore)(nil)

// PromptStore loads LLM prompts from user-editable files on disk, seeded
// from driven.DefaultPrompts.
//
// Files are only created on the first Load, not in the constructor.
// An edited prompt whose %s placeholders no longer match the built-in
// template is ignored in favour of the built-in one.
type PromptStore struct {
	mu        sync.RWMutex
	promptDir string
	cache     map[string]string
	initOnce  sync.Once
	initErr   error
}

// NewPromptStore creates a new file-based prompt store.
// If promptDir is empty, defaults to ~/.covera/prompts/.
func NewPromptStore(promptDir string) (*PromptStore, error) {
	if promptDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		promptDir = filepath.Join(home, ".covera", "prompts")
	}

	return &PromptStore{
		promptDir: promptDir,
		cache:     make(map[string]string),
	}, nil
}

// Load returns the prompt template for the given name.
func (s *PromptStore) Load(name string) (string, error) {
	fallback, known := driven.DefaultPrompts[name]

	s.initOnce.Do(s.initialise)
	if s.initErr != nil {
		if known {
			return fallback, nil
		}
		return "", fmt.Errorf("prompt store init failed: %w", s.initErr)
	}

	s.mu.RLock()
	if prompt, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return prompt, nil
	}
	s.mu.RUnlock()

	prompt, err := s.loadFromFile(name)
	switch {
	case err != nil && known:
		prompt = fallback
	case err != nil:
		return "", fmt.Errorf("load prompt %q: %w", name, err)
	case known && placeholders(prompt) != placeholders(fallback):
		logger.Warn("Prompt %s has %d placeholders, expected %d; using the built-in prompt",
			name, placeholders(prompt), placeholders(fallback))
		prompt = fallback
	}

	s.mu.Lock()
	if cached, ok := s.cache[name]; ok {
		prompt = cached
	} else {
		s.cache[name] = prompt
	}
	s.mu.Unlock()

	return prompt, nil
}

// Reload clears the prompt cache, forcing fresh loads from disk.
func (s *PromptStore) Reload() {
	s.mu.Lock()
	s.cache = make(map[string]string)
	s.mu.Unlock()
}

// Dir returns the prompt directory path.
func (s *PromptStore) Dir() string {
	return s.promptDir
}

func placeholders(prompt string) int {
	return strings.Count(prompt, "%s")
}

// initialise creates the prompt directory and default files.
func (s *PromptStore) initialise() {
	if err := os.MkdirAll(s.promptDir, 0700); err != nil {
		s.initErr = fmt.Errorf("create prompt directory: %w", err)
		return
	}

	for name, content := range driven.DefaultPrompts {
		path := filepath.Join(s.promptDir, name+".txt")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, []byte(content), 0600); err != nil {
				s.initErr = fmt.Errorf("create default prompt %q: %w", name, err)
				return
			}
		}
	}

	if err := s.createReadme(); err != nil {
		s.initErr = err
	}
}

func (s *PromptStore) loadFromFile(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.promptDir, name+".txt"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *PromptStore) createReadme() error {
	path := filepath.Join(s.promptDir, "README.md")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return nil
	}

	names := make([]string, 0, len(driven.DefaultPrompts))
	for name := range driven.DefaultPrompts {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("# Covera Prompts\n\n")
	b.WriteString("These files hold the prompts used to draft answers and to judge claims.\n")
	b.WriteString("Edit a file to change the prompt; changes apply to the next command.\n\n")
	b.WriteString("## Files\n\n")
	for _, name := range names {
		fmt.Fprintf(&b, "- `%s.txt` (%d placeholders)\n", name, placeholders(driven.DefaultPrompts[name]))
	}
	b.WriteString("\n## Placeholders\n\n")
	b.WriteString("Each `%s` is filled in order. A file whose placeholder count differs\n")
	b.WriteString("from the built-in prompt is ignored. Delete a file to restore the default.\n")

	return os.WriteFile(path, []byte(b.String()), 0600)
}
