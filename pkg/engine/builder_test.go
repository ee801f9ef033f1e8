package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCatalogBuilder_Declare_Basic(t *testing.T) {
	b := NewCatalogBuilder()

	res, err := b.Declare("package", "curl", map[string]any{"ensure": "present"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if res.Ref.Kind != "package" || res.Ref.Title != "curl" {
		t.Errorf("Expected ref package[curl], got %s", res.Ref)
	}

	cat, err := b.Build()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(cat.Resources) != 1 {
		t.Errorf("Expected 1 resource, got %d", len(cat.Resources))
	}
	if _, ok := cat.Get(Ref{Kind: "package", Title: "curl"}); !ok {
		t.Error("Expected catalog to contain package[curl]")
	}
}

func TestCatalogBuilder_Declare_Duplicate(t *testing.T) {
	b := NewCatalogBuilder()

	if _, err := b.Declare("file", "/etc/motd", nil); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	_, err := b.Declare("file", "/etc/motd", map[string]any{"content": "other"})
	if err == nil {
		t.Fatal("Expected duplicate declaration to fail")
	}
	if CodeOf(err) != ErrCodeDuplicateResource {
		t.Errorf("Expected code %s, got %s", ErrCodeDuplicateResource, CodeOf(err))
	}
	if !IsBuildError(err) {
		t.Error("Expected duplicate declaration to be a build error")
	}
}

func TestCatalogBuilder_Declare_SameTitleDifferentKind(t *testing.T) {
	b := NewCatalogBuilder()

	if _, err := b.Declare("package", "nginx", nil); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, err := b.Declare("service", "nginx", nil); err != nil {
		t.Errorf("Expected same title under distinct kinds to be allowed, got: %v", err)
	}
}

func TestCatalogBuilder_Declare_EmptyKindOrTitle(t *testing.T) {
	b := NewCatalogBuilder()

	if _, err := b.Declare("", "curl", nil); CodeOf(err) != ErrCodeValidation {
		t.Errorf("Expected %s for empty kind, got %s", ErrCodeValidation, CodeOf(err))
	}
	if _, err := b.Declare("package", "", nil); CodeOf(err) != ErrCodeValidation {
		t.Errorf("Expected %s for empty title, got %s", ErrCodeValidation, CodeOf(err))
	}
}

func TestCatalogBuilder_Declare_UnknownKind(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("package", &stubHandler{}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	b := NewCatalogBuilder(WithRegistry(reg))
	if _, err := b.Declare("package", "curl", nil); err != nil {
		t.Fatalf("Expected registered kind to declare, got: %v", err)
	}

	_, err := b.Declare("mount", "/data", nil)
	if CodeOf(err) != ErrCodeUnknownKind {
		t.Errorf("Expected code %s, got %s", ErrCodeUnknownKind, CodeOf(err))
	}
}

type rejectAllValidator struct{}

func (rejectAllValidator) ValidateAttrs(kind string, attrs map[string]any) error {
	return fmt.Errorf("rejected %s attrs", kind)
}

func TestCatalogBuilder_Declare_AttrValidation(t *testing.T) {
	b := NewCatalogBuilder(WithAttrValidator(rejectAllValidator{}))

	_, err := b.Declare("package", "curl", map[string]any{"ensure": "sideways"})
	if err == nil {
		t.Fatal("Expected validation failure")
	}
	if CodeOf(err) != ErrCodeValidation {
		t.Errorf("Expected code %s, got %s", ErrCodeValidation, CodeOf(err))
	}
}

func TestCatalogBuilder_DeclareOnce(t *testing.T) {
	b := NewCatalogBuilder()

	first, err := b.DeclareOnce("package", "rails", map[string]any{"ensure": "present"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	second, err := b.DeclareOnce("package", "rails", map[string]any{"ensure": "latest"})
	if err != nil {
		t.Fatalf("Expected re-declaration via DeclareOnce to succeed, got: %v", err)
	}
	if first != second {
		t.Error("Expected DeclareOnce to return the original resource")
	}

	cat, err := b.Build()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(cat.Resources) != 1 {
		t.Errorf("Expected 1 resource, got %d", len(cat.Resources))
	}
}

func TestCatalogBuilder_AddEdge_UnknownEndpoint(t *testing.T) {
	b := NewCatalogBuilder()
	if _, err := b.Declare("package", "curl", nil); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	err := b.Require(Ref{Kind: "package", Title: "curl"}, Ref{Kind: "service", Title: "ghost"})
	if CodeOf(err) != ErrCodeUnknownResource {
		t.Errorf("Expected code %s, got %s", ErrCodeUnknownResource, CodeOf(err))
	}

	err = b.Notify(Ref{Kind: "file", Title: "ghost"}, Ref{Kind: "package", Title: "curl"})
	if CodeOf(err) != ErrCodeUnknownResource {
		t.Errorf("Expected code %s, got %s", ErrCodeUnknownResource, CodeOf(err))
	}
}

func TestCatalogBuilder_AddEdge_DuplicateIgnored(t *testing.T) {
	b := NewCatalogBuilder()
	a, _ := b.Declare("package", "a", nil)
	c, _ := b.Declare("service", "c", nil)

	if err := b.Require(a.Ref, c.Ref); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := b.Require(a.Ref, c.Ref); err != nil {
		t.Fatalf("Expected duplicate edge to be ignored, got: %v", err)
	}

	cat, err := b.Build()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(cat.Edges) != 1 {
		t.Errorf("Expected 1 edge, got %d", len(cat.Edges))
	}
}

func TestCatalogBuilder_Build_CycleFails(t *testing.T) {
	b := NewCatalogBuilder()
	a, _ := b.Declare("package", "a", nil)
	c, _ := b.Declare("file", "b", nil)
	s, _ := b.Declare("service", "c", nil)

	mustEdge(t, b.Require(a.Ref, c.Ref))
	mustEdge(t, b.Require(c.Ref, s.Ref))
	mustEdge(t, b.Require(s.Ref, a.Ref))

	_, err := b.Build()
	if err == nil {
		t.Fatal("Expected cycle to fail the build")
	}
	if CodeOf(err) != ErrCodeCycle {
		t.Errorf("Expected code %s, got %s", ErrCodeCycle, CodeOf(err))
	}

	// The message must name every resource on the cycle so the user can
	// break it.
	msg := err.Error()
	for _, ref := range []string{"package[a]", "file[b]", "service[c]"} {
		if !strings.Contains(msg, ref) {
			t.Errorf("Expected cycle message to name %s, got: %s", ref, msg)
		}
	}
}

func TestCatalogBuilder_Build_NotifyEdgeInCycle(t *testing.T) {
	b := NewCatalogBuilder()
	f, _ := b.Declare("file", "conf", nil)
	s, _ := b.Declare("service", "daemon", nil)

	mustEdge(t, b.Require(s.Ref, f.Ref))
	mustEdge(t, b.Notify(f.Ref, s.Ref))

	// Notify implies ordering, so a require edge the other way is a cycle.
	_, err := b.Build()
	if CodeOf(err) != ErrCodeCycle {
		t.Errorf("Expected code %s, got %s", ErrCodeCycle, CodeOf(err))
	}
}

func TestCatalogBuilder_Fragment_UndeclaredTarget(t *testing.T) {
	b := NewCatalogBuilder()

	err := b.Fragment("puppet.conf", "00", "main", "[main]\n")
	if CodeOf(err) != ErrCodeUnknownResource {
		t.Errorf("Expected code %s, got %s", ErrCodeUnknownResource, CodeOf(err))
	}
}

func TestCatalogBuilder_Fragment_DuplicateTitle(t *testing.T) {
	b := NewCatalogBuilder()
	if _, err := b.Declare(KindConcat, "puppet.conf", map[string]any{"path": "/etc/puppet/puppet.conf"}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if err := b.Fragment("puppet.conf", "00", "main", "A"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	err := b.Fragment("puppet.conf", "10", "main", "B")
	if CodeOf(err) != ErrCodeDuplicateResource {
		t.Errorf("Expected code %s, got %s", ErrCodeDuplicateResource, CodeOf(err))
	}
}

func TestCatalogBuilder_Fragment_AssemblyOrder(t *testing.T) {
	b := NewCatalogBuilder()
	if _, err := b.Declare(KindConcat, "puppet.conf", nil); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// Declared out of order; assembly sorts ascending by order key.
	mustEdge(t, b.Fragment("puppet.conf", "05", "agent", "B"))
	mustEdge(t, b.Fragment("puppet.conf", "00", "main", "A"))
	mustEdge(t, b.Fragment("puppet.conf", "20", "master", "C"))

	cat, err := b.Build()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	res, _ := cat.Get(Ref{Kind: KindConcat, Title: "puppet.conf"})
	content, _ := res.StringAttr("content")
	if content != "ABC" {
		t.Errorf("Expected assembled content ABC, got %q", content)
	}
}

func TestCatalogBuilder_Fragment_TieBreakByTitle(t *testing.T) {
	b := NewCatalogBuilder()
	if _, err := b.Declare(KindConcat, "app.conf", nil); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	mustEdge(t, b.Fragment("app.conf", "10", "zeta", "Z"))
	mustEdge(t, b.Fragment("app.conf", "10", "alpha", "A"))

	cat, err := b.Build()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	res, _ := cat.Get(Ref{Kind: KindConcat, Title: "app.conf"})
	content, _ := res.StringAttr("content")
	if content != "AZ" {
		t.Errorf("Expected equal-order fragments sorted by title, got %q", content)
	}
}

func TestCatalogBuilder_Fragment_LexicalNotNumericOrder(t *testing.T) {
	b := NewCatalogBuilder()
	if _, err := b.Declare(KindConcat, "app.conf", nil); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// "10" sorts before "9" lexically; order keys are strings.
	mustEdge(t, b.Fragment("app.conf", "9", "nine", "N"))
	mustEdge(t, b.Fragment("app.conf", "10", "ten", "T"))

	cat, err := b.Build()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	res, _ := cat.Get(Ref{Kind: KindConcat, Title: "app.conf"})
	content, _ := res.StringAttr("content")
	if content != "TN" {
		t.Errorf("Expected lexical order key comparison, got %q", content)
	}
}

func TestEngineError_IsAndAs(t *testing.T) {
	err := NewBuildError(ErrCodeDuplicateResource, "dup", nil).
		WithResource(Ref{Kind: "file", Title: "/etc/motd"})
	wrapped := fmt.Errorf("building catalog: %w", err)

	if !errors.Is(wrapped, NewBuildError(ErrCodeDuplicateResource, "", nil)) {
		t.Error("Expected errors.Is to match on class and code")
	}

	var e *EngineError
	if !errors.As(wrapped, &e) {
		t.Fatal("Expected errors.As to find the EngineError")
	}
	if e.Resource != "file[/etc/motd]" {
		t.Errorf("Expected resource context, got %q", e.Resource)
	}
}

func mustEdge(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
}
