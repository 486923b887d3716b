package definition

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strconv"
	"sync"

	"github.com/dukex/bpmnvm/pkg/pvm"
)

var ErrDefinitionNotFound = errors.New("process definition not found")

// Repository keeps every deployed version of every process, per tenant.
type Repository struct {
	mu   sync.RWMutex
	byID map[string]*pvm.ProcessDefinition
	// versions holds the definitions of a tenant and key, oldest first.
	versions map[string][]*pvm.ProcessDefinition
}

func NewRepository() *Repository {
	return &Repository{
		byID:     make(map[string]*pvm.ProcessDefinition),
		versions: make(map[string][]*pvm.ProcessDefinition),
	}
}

func versionsKey(tenantID, key string) string {
	return tenantID + "/" + key
}

// Deploy registers definition as the next version of its key for tenantID. The definition
// version and id are reassigned.
func (r *Repository) Deploy(tenantID string, definition *pvm.ProcessDefinition) *pvm.ProcessDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := versionsKey(tenantID, definition.Key)
	versions := r.versions[key]

	definition.TenantID = tenantID
	definition.Version = len(versions) + 1
	definition.ID = definition.Key + ":" + strconv.Itoa(definition.Version)

	if tenantID != "" {
		definition.ID = tenantID + ":" + definition.ID
	}

	r.versions[key] = append(versions, definition)
	r.byID[definition.ID] = definition

	return definition
}

// Get returns the definition with id.
func (r *Repository) Get(id string) (*pvm.ProcessDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	definition, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDefinitionNotFound, id)
	}

	return definition, nil
}

// LatestByKey returns the most recent version of key deployed for tenantID.
func (r *Repository) LatestByKey(tenantID, key string) (*pvm.ProcessDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.versions[versionsKey(tenantID, key)]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: key %s for tenant '%s'", ErrDefinitionNotFound, key, tenantID)
	}

	return versions[len(versions)-1], nil
}

// List returns the latest version of every key of tenantID, sorted by key.
func (r *Repository) List(tenantID string) []*pvm.ProcessDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var definitions []*pvm.ProcessDefinition

	for _, versions := range r.versions {
		latest := versions[len(versions)-1]
		if latest.TenantID == tenantID {
			definitions = append(definitions, latest)
		}
	}

	sort.Slice(definitions, func(i, j int) bool {
		return definitions[i].Key < definitions[j].Key
	})

	return definitions
}

// LoadDir compiles every *.json document of dir, in file name order.
func (c *Compiler) LoadDir(dir string) ([]*pvm.ProcessDefinition, error) {
	root := os.DirFS(dir)

	files, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list definition files: %w", err)
	}

	sort.Strings(files)

	definitions := make([]*pvm.ProcessDefinition, 0, len(files))

	for _, file := range files {
		data, err := fs.ReadFile(root, file)
		if err != nil {
			return nil, fmt.Errorf("failed to read definition %s: %w", path.Join(dir, file), err)
		}

		definition, err := c.Compile(data)
		if err != nil {
			return nil, fmt.Errorf("failed to compile definition %s: %w", file, err)
		}

		definitions = append(definitions, definition)
	}

	return definitions, nil
}
