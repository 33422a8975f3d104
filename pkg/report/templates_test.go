package report

import "testing"

func TestBuiltinTemplates(t *testing.T) {
	templates := BuiltinTemplates()
	if len(templates) != 4 {
		t.Fatalf("expected 4 builtin templates, got %d", len(templates))
	}

	seen := map[string]bool{}
	for _, tpl := range templates {
		if tpl.ID == "" || tpl.Name == "" {
			t.Errorf("template %q missing id or name", tpl.ID)
		}
		if seen[tpl.ID] {
			t.Errorf("duplicate template id %q", tpl.ID)
		}
		seen[tpl.ID] = true
		if len(tpl.Sections) == 0 {
			t.Errorf("template %q has no sections", tpl.ID)
		}
		if len(tpl.ChartsIncluded) == 0 {
			t.Errorf("template %q includes no charts", tpl.ID)
		}
	}
}

func TestTemplateByID(t *testing.T) {
	tpl, ok := TemplateByID("monthly-summary")
	if !ok {
		t.Fatal("expected monthly-summary to exist")
	}
	if tpl.Name != "Rapport Mensuel" {
		t.Errorf("unexpected name %q", tpl.Name)
	}

	if _, ok := TemplateByID("nonexistent"); ok {
		t.Error("expected lookup miss for unknown id")
	}
}
