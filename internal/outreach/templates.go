// Package outreach renders pitch emails from templates keyed by business
// attributes.
package outreach

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lalithlochan/outreach/internal/db"
)

const (
	TemplateInitialContact   = "initial_contact"
	TemplateFollowUp         = "follow_up"
	TemplateValueProposition = "value_proposition"
)

var defaultTemplates = map[string]string{
	TemplateInitialContact: `Subject: Boost Your Online Presence for ${business_name}

Dear ${contact_name},

I hope this email finds you well. I recently discovered ${business_name} while researching outstanding ${business_category} in ${location}, and I was impressed by your reputation.

However, I noticed that ${business_name} doesn't currently have a website, which means you might be missing out on potential customers who are searching online for services like yours.

As a web developer specializing in creating effective websites for ${business_category} businesses, I'd love to help you establish a strong online presence. A professional website can:

1. Make your business discoverable to new customers searching online
2. Showcase your services and unique selling points
3. Allow customers to find your location, hours, and contact information 24/7
4. ${custom_benefit}

I've helped several ${business_category} businesses in ${location} increase their customer base through effective websites. I'd be happy to discuss how we could create a website tailored specifically to your needs.

Would you be available for a quick 15-minute call to discuss how a website could benefit ${business_name}? You can book a time that works for you here: [Your Calendly Link]

Looking forward to potentially working together,

[Your Name]
[Your Contact Information]
`,
	TemplateFollowUp: `Subject: Following Up: Website for ${business_name}

Dear ${contact_name},

I recently reached out regarding creating a website for ${business_name}. I understand you're busy running your business, so I wanted to follow up.

Having a website is increasingly important for ${business_category} businesses in ${location}. Your competitors are likely already online, and a professional website would help you:

1. Appear in Google searches when potential customers look for ${business_category} services
2. Build credibility and trust with new customers
3. ${custom_benefit}
4. Provide information and services to customers even outside business hours

I specialize in creating affordable, effective websites for businesses like yours. I'd be happy to show you some examples of my work for other ${business_category} businesses.

If you're interested, please book a quick 15-minute call at your convenience: [Your Calendly Link]

Best regards,

[Your Name]
[Your Contact Information]
`,
	TemplateValueProposition: `Subject: How ${business_name} Can Benefit from a Professional Website

Dear ${contact_name},

I hope you're having a great week. I'm reaching out because I believe ${business_name} could significantly benefit from having a professional website.

In today's digital world, over 80% of consumers search online before making purchasing decisions. Without a website, your business is potentially missing out on these customers.

For ${business_category} businesses in ${location}, a website can:

1. Increase visibility to potential customers searching online
2. Provide a platform to showcase your services and expertise
3. Allow for ${custom_feature} functionality
4. Build credibility and trust with new customers
5. ${custom_benefit}

I've helped several businesses similar to yours achieve significant growth through effective websites. For example, one ${business_category} business saw a 40% increase in new customer inquiries within three months of launching their website.

I offer affordable website packages specifically designed for ${business_category} businesses, including:

- Professional design tailored to your brand
- Mobile-friendly layout
- Search engine optimization
- ${custom_feature} integration
- Ongoing support and maintenance

I'd love to discuss how we could create a website that meets your specific needs and budget. Please book a convenient time for a quick call: [Your Calendly Link]

Best regards,

[Your Name]
[Your Contact Information]
`,
}

// Templates is the set of named email templates plus the per-category
// phrase lists used to fill ${custom_benefit} and ${custom_feature}.
type Templates struct {
	bodies   map[string]string
	phrases  map[string]categoryPhrases
	order    []string // category match order, "default" excluded
	fileName string
}

// templateFile is the YAML override format.
type templateFile struct {
	Templates map[string]string   `yaml:"templates"`
	Benefits  map[string][]string `yaml:"benefits"`
	Features  map[string][]string `yaml:"features"`
}

// DefaultTemplates returns the built-in templates and phrase lists.
func DefaultTemplates() *Templates {
	t := &Templates{
		bodies:  make(map[string]string, len(defaultTemplates)),
		phrases: make(map[string]categoryPhrases, len(defaultPhrases)),
		order:   append([]string(nil), defaultCategoryOrder...),
	}
	for name, body := range defaultTemplates {
		t.bodies[name] = body
	}
	for cat, p := range defaultPhrases {
		t.phrases[cat] = p
	}
	return t
}

// LoadTemplates returns the defaults overlaid with the YAML file at path.
// An empty path yields the defaults.
func LoadTemplates(path string) (*Templates, error) {
	t := DefaultTemplates()
	if path == "" {
		return t, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates file: %w", err)
	}

	var f templateFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse templates file %s: %w", path, err)
	}

	for name, body := range f.Templates {
		name = normalizeName(name)
		if name == "" || strings.TrimSpace(body) == "" {
			return nil, fmt.Errorf("templates file %s: empty template %q", path, name)
		}
		t.bodies[name] = body
	}
	t.mergePhrases(f.Benefits, func(p *categoryPhrases, list []string) { p.benefits = list })
	t.mergePhrases(f.Features, func(p *categoryPhrases, list []string) { p.features = list })
	t.fileName = path

	return t, nil
}

func (t *Templates) mergePhrases(lists map[string][]string, set func(*categoryPhrases, []string)) {
	cats := make([]string, 0, len(lists))
	for cat := range lists {
		cats = append(cats, cat)
	}
	sort.Strings(cats)

	for _, cat := range cats {
		list := lists[cat]
		if len(list) == 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(cat))
		p, known := t.phrases[key]
		if !known {
			p = t.phrases[defaultCategory]
			if key != defaultCategory {
				// new categories are matched before the catch-all
				t.order = append(t.order, key)
			}
		}
		set(&p, list)
		t.phrases[key] = p
	}
}

// Get returns the template body for name. A trailing ".txt" is ignored so
// names written for file-based setups still resolve.
func (t *Templates) Get(name string) (string, bool) {
	body, ok := t.bodies[normalizeName(name)]
	return body, ok
}

// Names lists the template names in sorted order.
func (t *Templates) Names() []string {
	names := make([]string, 0, len(t.bodies))
	for name := range t.bodies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Source is the override file the templates were loaded from, if any.
func (t *Templates) Source() string {
	return t.fileName
}

// NameFor picks the template for an email type. Initial emails use the
// campaign's template when it names one.
func NameFor(emailType db.EmailType, campaignTemplate string) string {
	switch emailType {
	case db.EmailFollowUp:
		return TemplateFollowUp
	case db.EmailValueProposition:
		return TemplateValueProposition
	}
	if name := normalizeName(campaignTemplate); name != "" {
		return name
	}
	return TemplateInitialContact
}

func normalizeName(name string) string {
	return strings.TrimSuffix(strings.TrimSpace(name), ".txt")
}
