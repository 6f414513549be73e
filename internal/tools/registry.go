package tools

import (
	"fmt"
	"sort"
	"sync"

	"kodai/internal/llm"
	"kodai/internal/logging"
)

// Registry manages the collection of available tools.
type Registry struct {
	tools map[string]Tool
	order []string
	mu    sync.RWMutex
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Get retrieves a tool by name (read-optimized with RLock).
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, name := range r.order {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// Names returns the sorted names of all registered tools.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Declarations returns all tool declarations in registration order.
func (r *Registry) Declarations() []*llm.ToolDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	declarations := make([]*llm.ToolDeclaration, 0, len(r.tools))
	for _, name := range r.order {
		declarations = append(declarations, r.tools[name].Declaration())
	}
	return declarations
}

// Register adds a tool to the registry. Names are case-sensitive and
// must be unique.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}

	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// MustRegister adds a tool to the registry and logs a warning on error.
func (r *Registry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		logging.Warn("failed to register tool", "tool", tool.Name(), "error", err)
	}
}

// DefaultRegistry creates a registry with the standard file and search
// tools rooted at workDir.
func DefaultRegistry(workDir string) *Registry {
	r := NewRegistry()

	r.MustRegister(NewReadTool(workDir))
	r.MustRegister(NewWriteTool(workDir))
	r.MustRegister(NewEditTool(workDir))
	r.MustRegister(NewGlobTool(workDir))
	r.MustRegister(NewGrepTool(workDir))
	r.MustRegister(NewListDirTool(workDir))
	r.MustRegister(NewTreeTool(workDir))
	r.MustRegister(NewDiffTool(workDir))

	return r
}
