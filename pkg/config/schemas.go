package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/convergekit/converge/pkg/engine"
)

// SchemaRegistry validates resource attributes against per-kind CUE
// schemas. It implements engine.AttrValidator.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry pre-loaded with the built-in
// resource kind schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	sr.registerBuiltInSchemas()
	return sr
}

func (sr *SchemaRegistry) registerBuiltInSchemas() {
	sr.RegisterSchema("package", builtinPackageSchema)
	sr.RegisterSchema("file", builtinFileSchema)
	sr.RegisterSchema("service", builtinServiceSchema)
	sr.RegisterSchema("exec", builtinExecSchema)
	sr.RegisterSchema("concat", builtinConcatSchema)
}

// RegisterSchema compiles and registers a CUE schema for a resource kind.
func (sr *SchemaRegistry) RegisterSchema(kind, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", kind, err)
	}

	sr.schemas[kind] = val
	return nil
}

// GetSchema retrieves a schema by kind.
func (sr *SchemaRegistry) GetSchema(kind string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[kind]
	return val, ok
}

// ValidateAttrs checks resource attributes against the kind's schema.
// Kinds without a registered schema pass unchecked, so user-registered
// handler kinds do not require a schema.
func (sr *SchemaRegistry) ValidateAttrs(kind string, attrs map[string]any) error {
	schema, ok := sr.GetSchema(kind)
	if !ok {
		return nil
	}

	if attrs == nil {
		attrs = map[string]any{}
	}
	dataVal := sr.ctx.Encode(attrs)
	if err := dataVal.Err(); err != nil {
		return engine.NewBuildError(engine.ErrCodeValidation,
			fmt.Sprintf("failed to encode %s attributes", kind), err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return engine.NewBuildError(engine.ErrCodeValidation,
			fmt.Sprintf("%s attributes failed validation", kind), err)
	}
	return nil
}

// ListSchemas returns all registered schema kinds.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	kinds := make([]string, 0, len(sr.schemas))
	for kind := range sr.schemas {
		kinds = append(kinds, kind)
	}
	return kinds
}

// Built-in schema definitions. Schemas are closed structs so a typo in
// an attribute name fails the build instead of being silently ignored.

const builtinPackageSchema = `
close({
	ensure?:   "present" | "absent" | "latest"
	version?:  string
	provider?: string
})
`

const builtinFileSchema = `
close({
	path?:    string
	content?: string
	mode?:    string & =~"^[0-7]{3,4}$"
	owner?:   string
	group?:   string
})
`

const builtinServiceSchema = `
close({
	ensure?:    "running" | "stopped"
	enable?:    bool
	hasstatus?: bool
})
`

const builtinExecSchema = `
close({
	command?:     string
	unless?:      string
	refreshonly?: bool
})
`

const builtinConcatSchema = `
close({
	path?:    string
	content?: string
	mode?:    string & =~"^[0-7]{3,4}$"
	owner?:   string
	group?:   string
})
`
