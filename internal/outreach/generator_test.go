package outreach

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lalithlochan/outreach/internal/db"
)

func first(int) int { return 0 }

func TestGenerate_InitialContact(t *testing.T) {
	g := NewGenerator(DefaultTemplates(), WithPicker(first))

	b := db.Business{Name: "Delicious Corner Cafe", Category: "Restaurant", Location: "London, UK", ContactName: "Mr. Smith"}
	draft, ok := g.Generate(b, "initial_contact.txt")
	if !ok {
		t.Fatal("expected template to exist")
	}

	if draft.Subject != "Boost Your Online Presence for Delicious Corner Cafe" {
		t.Errorf("unexpected subject %q", draft.Subject)
	}
	if strings.Contains(draft.Body, "Subject:") {
		t.Error("subject line should be stripped from the body")
	}
	if !strings.HasPrefix(draft.Body, "Dear Mr. Smith,") {
		t.Errorf("body should start with the greeting, got %q", draft.Body[:30])
	}
	if !strings.Contains(draft.Body, "4. Allow customers to view your menu and make reservations online") {
		t.Error("expected the first restaurant benefit")
	}
	if strings.Contains(draft.Body, "${") {
		t.Error("known placeholders should all be substituted")
	}
}

func TestGenerate_DefaultsForMissingAttributes(t *testing.T) {
	g := NewGenerator(nil, WithPicker(first))

	draft, _ := g.Generate(db.Business{}, TemplateFollowUp)

	if draft.Subject != "Following Up: Website for your business" {
		t.Errorf("unexpected subject %q", draft.Subject)
	}
	for _, want := range []string{"Dear Business Owner,", "local business businesses in your area",
		"Showcase testimonials from satisfied customers"} {
		if !strings.Contains(draft.Body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestGenerate_MissingTemplateUsesPlaceholder(t *testing.T) {
	g := NewGenerator(nil)

	draft, ok := g.Generate(db.Business{Name: "Quick Fix Plumbing"}, "no_such_template")
	if ok {
		t.Error("expected ok=false for a missing template")
	}
	if draft.Subject != "Website for Quick Fix Plumbing" {
		t.Errorf("unexpected subject %q", draft.Subject)
	}
	want := "Dear Business Owner,\n\nThis is a placeholder email for Quick Fix Plumbing.\n\nBest regards,\nYour Name"
	if draft.Body != want {
		t.Errorf("unexpected body %q", draft.Body)
	}
}

func TestSubstitute(t *testing.T) {
	vars := map[string]string{"name": "Ada", "city": "Leeds"}

	tests := []struct {
		in   string
		want string
	}{
		{"Hi ${name}", "Hi Ada"},
		{"Hi $name from $city", "Hi Ada from Leeds"},
		{"Keep ${unknown} and $other", "Keep ${unknown} and $other"},
		{"Costs $$5", "Costs $5"},
		{"${name}${city}", "AdaLeeds"},
		{"trailing $", "trailing $"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := substitute(tt.in, vars); got != tt.want {
				t.Errorf("substitute(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSplitSubject_NoSubjectLine(t *testing.T) {
	subject, body := splitSubject("Hello there")
	if subject != "" || body != "Hello there" {
		t.Errorf("got (%q, %q)", subject, body)
	}
}

func TestPhrasesFor_SubstringMatch(t *testing.T) {
	tpl := DefaultTemplates()

	tests := []struct {
		category string
		feature  string
	}{
		{"Emergency Plumber", "emergency service request"},
		{"family DENTIST practice", "appointment scheduling"},
		{"florist", "contact form"},
		{"", "contact form"},
	}

	for _, tt := range tests {
		t.Run(tt.category, func(t *testing.T) {
			got := tpl.phrasesFor(tt.category).features[0]
			if got != tt.feature {
				t.Errorf("phrasesFor(%q) first feature = %q, want %q", tt.category, got, tt.feature)
			}
		})
	}
}

func TestNameFor(t *testing.T) {
	tests := []struct {
		typ      db.EmailType
		campaign string
		want     string
	}{
		{db.EmailInitial, "", TemplateInitialContact},
		{db.EmailInitial, "spring_offer.txt", "spring_offer"},
		{db.EmailFollowUp, "spring_offer", TemplateFollowUp},
		{db.EmailValueProposition, "", TemplateValueProposition},
	}

	for _, tt := range tests {
		if got := NameFor(tt.typ, tt.campaign); got != tt.want {
			t.Errorf("NameFor(%s, %q) = %q, want %q", tt.typ, tt.campaign, got, tt.want)
		}
	}
}

func TestLoadTemplates_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	contents := `
templates:
  spring_offer: |
    Subject: Spring deal for ${business_name}

    Hi ${contact_name}, ${custom_benefit}.
benefits:
  florist:
    - Sell bouquets online
features:
  florist:
    - flower catalogue
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}

	tpl, err := LoadTemplates(path)
	if err != nil {
		t.Fatalf("LoadTemplates: %v", err)
	}
	if tpl.Source() != path {
		t.Errorf("Source() = %q", tpl.Source())
	}

	names := tpl.Names()
	if len(names) != 4 {
		t.Fatalf("expected defaults plus one override, got %v", names)
	}

	g := NewGenerator(tpl, WithPicker(first))
	draft, ok := g.Generate(db.Business{Name: "Petal Co", Category: "Florist", ContactName: "Jo"}, "spring_offer")
	if !ok {
		t.Fatal("expected override template")
	}
	if draft.Subject != "Spring deal for Petal Co" {
		t.Errorf("unexpected subject %q", draft.Subject)
	}
	if strings.TrimSpace(draft.Body) != "Hi Jo, Sell bouquets online." {
		t.Errorf("unexpected body %q", draft.Body)
	}
	if got := tpl.phrasesFor("florist").features[0]; got != "flower catalogue" {
		t.Errorf("unexpected florist feature %q", got)
	}
}

func TestLoadTemplates_Errors(t *testing.T) {
	if _, err := LoadTemplates(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("templates: [not, a, map]"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTemplates(path); err == nil {
		t.Error("expected parse error")
	}
}
