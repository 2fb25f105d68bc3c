package reference

import "testing"

func TestParseSpan(t *testing.T) {
	r, err := Parse("segment.token")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if r.Module != "segment" || r.Base != "token" || r.IsAttribute() {
		t.Fatalf("got %+v", r)
	}
	if got, want := r.String(), "segment.token"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestParseAttribute(t *testing.T) {
	r, err := Parse("segment.token:saldo.sense")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !r.IsAttribute() || r.AttrOf != "saldo" || r.Attr != "sense" {
		t.Fatalf("got %+v", r)
	}
	if got, want := r.String(), "segment.token:saldo.sense"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestParseMalformed(t *testing.T) {
	for _, raw := range []string{"", "noDot", "mod.", ".base", "mod.base:noDot"} {
		if _, err := Parse(raw); err == nil {
			t.Errorf("Parse(%q): expected error", raw)
		}
	}
}

func TestClassesWildcardsConfig(t *testing.T) {
	raw := "<token:word>:[wsd.sense_model].{annotation}"
	if got := Classes(raw); len(got) != 1 || got[0] != "<token:word>" {
		t.Errorf("Classes = %v", got)
	}
	if got := Wildcards(raw); len(got) != 1 || got[0] != "{annotation}" {
		t.Errorf("Wildcards = %v", got)
	}
	if got := ConfigPlaceholders(raw); len(got) != 1 || got[0] != "[wsd.sense_model]" {
		t.Errorf("ConfigPlaceholders = %v", got)
	}
	if !HasPlaceholder(raw) {
		t.Error("HasPlaceholder = false, want true")
	}
	if HasPlaceholder("segment.token") {
		t.Error("HasPlaceholder = true, want false")
	}
}

func TestClassName(t *testing.T) {
	class, attr := ClassName("<token:word>")
	if class != "token" || attr != "word" {
		t.Errorf("ClassName = (%q, %q)", class, attr)
	}
	class, attr = ClassName("<token>")
	if class != "token" || attr != "" {
		t.Errorf("ClassName = (%q, %q)", class, attr)
	}
}

func TestWildcardAndConfigName(t *testing.T) {
	if got := WildcardName("{annotation}"); got != "annotation" {
		t.Errorf("WildcardName = %q", got)
	}
	if got := ConfigKey("[wsd.sense_model]"); got != "wsd.sense_model" {
		t.Errorf("ConfigKey = %q", got)
	}
}

func TestReplaceToken(t *testing.T) {
	got := ReplaceToken("<token>:misc.pos", "<token>", "segment.token")
	if want := "segment.token:misc.pos"; got != want {
		t.Errorf("ReplaceToken = %q, want %q", got, want)
	}
}

func TestDedupePreservesOrder(t *testing.T) {
	raw := "[a.b][c.d][a.b]"
	got := ConfigPlaceholders(raw)
	want := []string{"[a.b]", "[c.d]"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
