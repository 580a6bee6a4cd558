package outreach

import "strings"

const defaultCategory = "default"

type categoryPhrases struct {
	benefits []string
	features []string
}

// defaultCategoryOrder is the order categories are tried when matching a
// business category by substring.
var defaultCategoryOrder = []string{
	"restaurant", "plumber", "electrician", "hairdresser", "dentist", "mechanic", "cleaner",
}

var defaultPhrases = map[string]categoryPhrases{
	"restaurant": {
		benefits: []string{
			"Allow customers to view your menu and make reservations online",
			"Showcase your signature dishes with high-quality photos",
			"Highlight special events and promotions to drive more bookings",
			"Enable online ordering for takeaway or delivery services",
		},
		features: []string{"online reservation", "menu display", "food ordering", "table booking"},
	},
	"plumber": {
		benefits: []string{
			"Let customers request emergency services with a simple online form",
			"Display testimonials from satisfied customers to build trust",
			"Showcase your range of services with detailed descriptions",
			"Allow customers to book appointments online at their convenience",
		},
		features: []string{"emergency service request", "appointment scheduling", "quote request", "service area map"},
	},
	"electrician": {
		benefits: []string{
			"Enable customers to request quotes through an online form",
			"Showcase your certifications and qualifications prominently",
			"Display before-and-after photos of your electrical work",
			"Allow customers to schedule routine maintenance online",
		},
		features: []string{"emergency callout", "service booking", "quote request", "project gallery"},
	},
	"hairdresser": {
		benefits: []string{
			"Let clients book appointments online 24/7",
			"Showcase your portfolio of styles and transformations",
			"Promote special offers and loyalty programs",
			"Allow clients to select their preferred stylist when booking",
		},
		features: []string{"appointment booking", "stylist selection", "service pricing", "style gallery"},
	},
	"dentist": {
		benefits: []string{
			"Enable patients to book appointments and fill forms online",
			"Showcase before-and-after photos of successful treatments",
			"Provide educational content about dental health",
			"Allow patients to request emergency appointments online",
		},
		features: []string{"appointment scheduling", "patient form submission", "treatment information", "emergency contact"},
	},
	"mechanic": {
		benefits: []string{
			"Let customers book service appointments online",
			"Display testimonials from satisfied customers",
			"Showcase your specializations and certifications",
			"Allow customers to request quotes for specific repairs",
		},
		features: []string{"service booking", "repair quote request", "service history tracking", "vehicle information storage"},
	},
	"cleaner": {
		benefits: []string{
			"Enable customers to book cleaning services online",
			"Showcase your range of cleaning packages",
			"Display testimonials from satisfied customers",
			"Allow customers to specify special cleaning requirements",
		},
		features: []string{"service scheduling", "package selection", "special request submission", "recurring booking"},
	},
	defaultCategory: {
		benefits: []string{
			"Showcase testimonials from satisfied customers",
			"Display your portfolio of work and achievements",
			"Highlight your unique selling points and specializations",
			"Allow customers to contact you easily through online forms",
		},
		features: []string{"contact form", "service showcase", "customer testimonial", "appointment booking"},
	},
}

// phrasesFor returns the phrase lists of the first category contained in
// the business category, or the default lists.
func (t *Templates) phrasesFor(category string) categoryPhrases {
	lower := strings.ToLower(category)
	for _, key := range t.order {
		if strings.Contains(lower, key) {
			return t.phrases[key]
		}
	}
	return t.phrases[defaultCategory]
}
