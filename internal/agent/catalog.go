package agent

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var errInvalidAgentYAML = errors.New("invalid agent YAML frontmatter")

// Directory resolves agent personas for an account.
type Directory interface {
	List(ctx context.Context, accountID string) ([]Agent, error)
	ByID(ctx context.Context, accountID, agentID string) (Agent, error)
	ByDepartment(ctx context.Context, accountID, department string) (Agent, error)
}

// Catalog is a read-only Directory loaded from disk.
type Catalog struct {
	agents []Agent
}

type catalogFile struct {
	Agents []Agent `yaml:"agents"`
}

func NewCatalog(agents []Agent) *Catalog {
	return &Catalog{agents: append([]Agent(nil), agents...)}
}

// LoadCatalog reads either a YAML file with an `agents:` list or a directory
// of markdown files whose YAML frontmatter describes the agent and whose body
// is the persona text. A missing path yields an empty catalog.
func LoadCatalog(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return NewCatalog(nil), nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewCatalog(nil), nil
		}
		return nil, fmt.Errorf("stat agent catalog %q: %w", path, err)
	}

	var agents []Agent
	if info.IsDir() {
		agents, err = loadAgentDir(path)
	} else {
		agents, err = loadAgentFile(path)
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(agents))
	for i := range agents {
		a := &agents[i]
		if strings.TrimSpace(a.ID) == "" {
			return nil, fmt.Errorf("agent catalog %q: agent %q has no id", path, a.Name)
		}
		key := a.AccountID + "/" + a.ID
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("agent catalog %q: duplicate agent %s", path, key)
		}
		seen[key] = struct{}{}
	}
	return NewCatalog(agents), nil
}

func loadAgentFile(path string) ([]Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent catalog %q: %w", path, err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse agent catalog %q: %w", path, err)
	}
	return file.Agents, nil
}

func loadAgentDir(dir string) ([]Agent, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read agent dir %q: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	var agents []Agent
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".md") {
			continue
		}
		agentPath := filepath.Join(dir, entry.Name())
		content, err := os.ReadFile(agentPath)
		if err != nil {
			return nil, fmt.Errorf("read agent %q: %w", agentPath, err)
		}
		a, body, err := parseFrontmatter(content)
		if err != nil {
			if errors.Is(err, errInvalidAgentYAML) {
				log.Printf("[agent] warning: skip invalid agent file %s: %v", agentPath, err)
				continue
			}
			return nil, fmt.Errorf("parse agent %q: %w", agentPath, err)
		}
		if body = strings.TrimSpace(body); body != "" && a.Info == "" {
			a.Info = body
		}
		if a.ID == "" {
			a.ID = strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		}
		agents = append(agents, a)
	}
	return agents, nil
}

func parseFrontmatter(content []byte) (Agent, string, error) {
	text := strings.TrimPrefix(string(content), "\uFEFF")
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return Agent{}, "", errors.New("missing YAML frontmatter")
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return Agent{}, "", errors.New("missing closing frontmatter separator")
	}

	var a Agent
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:end], "\n")), &a); err != nil {
		return Agent{}, "", fmt.Errorf("%w: %v", errInvalidAgentYAML, err)
	}
	return a, strings.Join(lines[end+1:], "\n"), nil
}

func (c *Catalog) List(_ context.Context, accountID string) ([]Agent, error) {
	out := make([]Agent, 0, len(c.agents))
	for _, a := range c.agents {
		if a.AccountID == accountID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (c *Catalog) ByID(ctx context.Context, accountID, agentID string) (Agent, error) {
	agents, _ := c.List(ctx, accountID)
	for _, a := range agents {
		if a.ID == agentID {
			return a, nil
		}
	}
	return Agent{}, fmt.Errorf("%w: id %q", ErrAgentNotFound, agentID)
}

// ByDepartment never falls back to a default agent.
func (c *Catalog) ByDepartment(ctx context.Context, accountID, department string) (Agent, error) {
	agents, _ := c.List(ctx, accountID)
	for _, a := range agents {
		if a.Department == department {
			return a, nil
		}
	}
	return Agent{}, fmt.Errorf("%w: no agent for department %q", ErrAgentNotFound, department)
}

func (c *Catalog) Len() int { return len(c.agents) }
