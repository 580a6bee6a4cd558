package outreach

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"

	"github.com/lalithlochan/outreach/internal/db"
)

// Draft is a rendered email.
type Draft struct {
	Subject string
	Body    string
}

// Generator renders drafts from a template set.
type Generator struct {
	templates *Templates
	pick      func(n int) int
}

// Option configures a Generator.
type Option func(*Generator)

// WithPicker replaces the random choice of category phrases. pick(n) must
// return a value in [0, n).
func WithPicker(pick func(n int) int) Option {
	return func(g *Generator) {
		g.pick = pick
	}
}

func NewGenerator(templates *Templates, opts ...Option) *Generator {
	if templates == nil {
		templates = DefaultTemplates()
	}
	g := &Generator{
		templates: templates,
		pick:      rand.IntN,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Generator) Templates() *Templates {
	return g.templates
}

// Generate renders the named template for a business. The second return is
// false when the template does not exist; the draft is then a plain
// placeholder so the email can still be scheduled.
func (g *Generator) Generate(b db.Business, templateName string) (Draft, bool) {
	body, ok := g.templates.Get(templateName)
	if !ok {
		return Placeholder(b), false
	}

	rendered := substitute(body, g.variables(b))
	subject, rest := splitSubject(rendered)
	if subject == "" {
		subject = fallbackSubject(b)
	}
	return Draft{Subject: subject, Body: rest}, true
}

func (g *Generator) variables(b db.Business) map[string]string {
	name := orDefault(b.Name, "your business")
	category := orDefault(b.Category, "local business")
	phrases := g.templates.phrasesFor(category)

	return map[string]string{
		"business_name":     name,
		"contact_name":      orDefault(b.ContactName, "Business Owner"),
		"business_category": category,
		"location":          orDefault(b.Location, "your area"),
		"custom_benefit":    g.choose(phrases.benefits),
		"custom_feature":    g.choose(phrases.features),
	}
}

func (g *Generator) choose(list []string) string {
	if len(list) == 0 {
		return ""
	}
	return list[g.pick(len(list))]
}

// Placeholder is the plain email used when no template applies.
func Placeholder(b db.Business) Draft {
	name := orDefault(b.Name, "your business")
	contact := orDefault(b.ContactName, "Business Owner")
	return Draft{
		Subject: fallbackSubject(b),
		Body: fmt.Sprintf("Dear %s,\n\nThis is a placeholder email for %s.\n\nBest regards,\nYour Name",
			contact, name),
	}
}

func fallbackSubject(b db.Business) string {
	return "Website for " + orDefault(b.Name, "your business")
}

var placeholderPattern = regexp.MustCompile(`\$(?:\$|\{([A-Za-z_][A-Za-z0-9_]*)\}|([A-Za-z_][A-Za-z0-9_]*))`)

// substitute replaces $name and ${name} with values from vars. Unknown names
// are left untouched and $$ collapses to a single $.
func substitute(text string, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(m string) string {
		if m == "$$" {
			return "$"
		}
		sub := placeholderPattern.FindStringSubmatch(m)
		name := sub[1]
		if name == "" {
			name = sub[2]
		}
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

// splitSubject pulls the first "Subject:" line out of a rendered template.
func splitSubject(text string) (string, string) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, "Subject:") {
			continue
		}
		subject := strings.TrimSpace(strings.TrimPrefix(line, "Subject:"))
		rest := append(lines[:i:i], lines[i+1:]...)
		return subject, strings.TrimLeft(strings.Join(rest, "\n"), "\n")
	}
	return "", text
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
