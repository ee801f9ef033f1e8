package config

import (
	"testing"

	"github.com/convergekit/converge/pkg/engine"
)

func TestSchemaRegistry_BuiltinKinds(t *testing.T) {
	sr := NewSchemaRegistry()

	for _, kind := range []string{"package", "file", "service", "exec", "concat"} {
		if _, ok := sr.GetSchema(kind); !ok {
			t.Errorf("Expected built-in schema for %q", kind)
		}
	}
	if len(sr.ListSchemas()) != 5 {
		t.Errorf("Expected 5 built-in schemas, got %v", sr.ListSchemas())
	}
}

func TestSchemaRegistry_ValidateAttrs(t *testing.T) {
	sr := NewSchemaRegistry()

	tests := []struct {
		name  string
		kind  string
		attrs map[string]any
		ok    bool
	}{
		{"valid package", "package", map[string]any{"ensure": "present", "version": "2.7"}, true},
		{"invalid package ensure", "package", map[string]any{"ensure": "sideways"}, false},
		{"valid service", "service", map[string]any{"ensure": "running", "enable": true}, true},
		{"service ensure wrong type", "service", map[string]any{"enable": "yes"}, false},
		{"valid file mode", "file", map[string]any{"mode": "0644"}, true},
		{"invalid file mode", "file", map[string]any{"mode": "worldwritable"}, false},
		{"valid exec", "exec", map[string]any{"command": "true", "refreshonly": true}, true},
		{"unknown attribute rejected", "package", map[string]any{"enusre": "present"}, false},
		{"nil attrs pass", "file", nil, true},
		{"valid concat", "concat", map[string]any{"path": "/etc/puppet/puppet.conf", "content": "[main]\n"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidateAttrs(tt.kind, tt.attrs)
			if tt.ok && err != nil {
				t.Errorf("Expected attrs to validate, got: %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("Expected validation to fail")
			}
			if !tt.ok && engine.CodeOf(err) != engine.ErrCodeValidation {
				t.Errorf("Expected code %s, got %s", engine.ErrCodeValidation, engine.CodeOf(err))
			}
		})
	}
}

func TestSchemaRegistry_UnregisteredKindPasses(t *testing.T) {
	sr := NewSchemaRegistry()

	if err := sr.ValidateAttrs("mount", map[string]any{"anything": "goes"}); err != nil {
		t.Errorf("Expected unregistered kind to pass unchecked, got: %v", err)
	}
}

func TestSchemaRegistry_RegisterCustomSchema(t *testing.T) {
	sr := NewSchemaRegistry()

	err := sr.RegisterSchema("mount", `close({device?: string, fstype?: string})`)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if err := sr.ValidateAttrs("mount", map[string]any{"device": "/dev/sda1"}); err != nil {
		t.Errorf("Expected custom schema to validate, got: %v", err)
	}
	if err := sr.ValidateAttrs("mount", map[string]any{"devise": "/dev/sda1"}); err == nil {
		t.Error("Expected typo to fail against closed schema")
	}
}

func TestSchemaRegistry_RegisterInvalidSchema(t *testing.T) {
	sr := NewSchemaRegistry()

	if err := sr.RegisterSchema("broken", `{unbalanced`); err == nil {
		t.Error("Expected invalid CUE source to fail compilation")
	}
}
