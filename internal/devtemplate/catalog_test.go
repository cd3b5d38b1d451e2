package devtemplate

import (
	"errors"
	"testing"

	"github.com/vortexlab/vortex/internal/model"
	"github.com/vortexlab/vortex/internal/verr"
)

func TestNew_HasBuiltins(t *testing.T) {
	c := New()
	for _, name := range []string{"python", "node", "rust", "go"} {
		if _, err := c.Get(name); err != nil {
			t.Errorf("Get(%q) returned error: %v", name, err)
		}
	}
}

func TestGet_NotFound(t *testing.T) {
	c := New()
	_, err := c.Get("cobol")
	var notFound *verr.TemplateNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected *verr.TemplateNotFound, got %T: %v", err, err)
	}
}

func TestList_SortedByName(t *testing.T) {
	c := New()
	list := c.List()
	for i := 1; i < len(list); i++ {
		if list[i-1].Name > list[i].Name {
			t.Fatalf("list not sorted: %q before %q", list[i-1].Name, list[i].Name)
		}
	}
}

func TestAddCustom_Success(t *testing.T) {
	c := New()
	err := c.AddCustom(model.DevTemplate{Name: "custom-ruby", BaseImage: "ruby:3-slim"})
	if err != nil {
		t.Fatalf("AddCustom returned error: %v", err)
	}
	tpl, err := c.Get("custom-ruby")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if tpl.BaseImage != "ruby:3-slim" {
		t.Errorf("BaseImage = %q, want %q", tpl.BaseImage, "ruby:3-slim")
	}
}

func TestAddCustom_NameTaken(t *testing.T) {
	c := New()
	err := c.AddCustom(model.DevTemplate{Name: "python"})
	var exists *verr.TemplateExists
	if !errors.As(err, &exists) {
		t.Fatalf("expected *verr.TemplateExists, got %T: %v", err, err)
	}
}
