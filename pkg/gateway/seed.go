package gateway

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/txn2/mcp-crm-gateway/pkg/agent"
	"github.com/txn2/mcp-crm-gateway/pkg/permission"
	"github.com/txn2/mcp-crm-gateway/pkg/store"
)

// Seed is a fixtures document for the in-memory backend.
type Seed struct {
	Agents []SeedAgent                 `yaml:"agents"`
	Tables map[string][]map[string]any `yaml:"tables"`
}

// SeedAgent is an agent plus its permission matrix.
type SeedAgent struct {
	agent.Agent `yaml:",inline"`
	Permissions permission.Matrix `yaml:"permissions"`
}

// LoadSeed reads a fixtures file.
func LoadSeed(path string) (*Seed, error) {
	// #nosec G304 -- path is from config, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}
	return &s, nil
}

// Apply writes the fixtures. Tables are loaded in name order before agents.
func (s *Seed) Apply(ctx context.Context, db store.Adapter, agents *agent.Store, perms permission.Store) error {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for i, r := range s.Tables[name] {
			if _, err := db.Insert(ctx, name, store.Row(r)); err != nil {
				return fmt.Errorf("seeding %s[%d]: %w", name, i, err)
			}
		}
	}

	for _, a := range s.Agents {
		if _, err := agents.Create(ctx, a.Agent); err != nil {
			return fmt.Errorf("seeding agent %s: %w", a.ID, err)
		}
		if a.Permissions == nil {
			continue
		}
		if err := perms.SetPermissions(ctx, a.ID, a.Permissions); err != nil {
			return fmt.Errorf("seeding permissions for %s: %w", a.ID, err)
		}
	}
	return nil
}
