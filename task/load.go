package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Load reads all task definitions under dir. Each immediate subdirectory is a
// tier named after its Tier value; each *.json file inside is one task.
// A non-empty tier restricts loading to that tier's subdirectory.
func Load(dir string, tier Tier) ([]*Task, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read tasks dir %s: %w", dir, err)
	}

	var tasks []*Task
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if tier != "" && Tier(e.Name()) != tier {
			continue
		}
		sub := filepath.Join(dir, e.Name())
		files, err := os.ReadDir(sub)
		if err != nil {
			return nil, fmt.Errorf("read tier dir %s: %w", sub, err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			t, err := loadFile(filepath.Join(sub, f.Name()))
			if err != nil {
				return nil, err
			}
			if t.Tier == "" {
				t.Tier = Tier(e.Name())
			}
			tasks = append(tasks, t)
		}
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

func loadFile(path string) (*Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task %s: %w", path, err)
	}
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse task %s: %w", path, err)
	}
	if t.ID == "" {
		return nil, fmt.Errorf("task %s: missing id", path)
	}
	if t.Prompt == "" {
		return nil, fmt.Errorf("task %s: missing prompt", path)
	}
	return &t, nil
}
