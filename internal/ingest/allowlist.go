package ingest

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
)

// AllowList holds the API keys the ingest endpoint accepts. Keys come from the
// config plus an optional file with one key per line ('#' starts a comment).
// An empty list rejects every key.
type AllowList struct {
	mu     sync.RWMutex
	static []string
	file   string
	keys   map[string]struct{}
}

func NewAllowList(keys []string, file string) (*AllowList, error) {
	a := &AllowList{static: keys, file: file}
	if err := a.Reload(); err != nil {
		return nil, err
	}
	return a, nil
}

// Reload rebuilds the key set. A missing file counts as empty.
func (a *AllowList) Reload() error {
	set := buildKeySet(a.static)
	if a.file != "" {
		fileKeys, err := readKeyFile(a.file)
		if err != nil {
			return err
		}
		for _, k := range fileKeys {
			set[k] = struct{}{}
		}
	}
	a.mu.Lock()
	a.keys = set
	a.mu.Unlock()
	return nil
}

func (a *AllowList) Allowed(key string) bool {
	if a == nil {
		return false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.keys[key]
	return ok
}

func (a *AllowList) Len() int {
	if a == nil {
		return 0
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.keys)
}

func buildKeySet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if k := strings.TrimSpace(v); k != "" {
			set[k] = struct{}{}
		}
	}
	return set
}

func readKeyFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open api keys file: %w", err)
	}
	defer f.Close()
	var keys []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read api keys file: %w", err)
	}
	return keys, nil
}
