package ai

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lalithlochan/outreach/internal/db"
	"github.com/lalithlochan/outreach/internal/outreach"
)

const systemPrompt = `You rewrite cold outreach emails from a small web design studio to local businesses.
Keep every fact, name, offer and the sign-off from the draft. Do not invent prices, links or claims.
Return ONLY the email body, no subject line. Keep it under 200 words with a friendly, plain tone.`

type textGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Personalizer rewrites a template draft so it reads as written for one
// business. The subject line is kept.
type Personalizer struct {
	client textGenerator
	logger *zap.Logger
}

func NewPersonalizer(client *Client, logger *zap.Logger) *Personalizer {
	return &Personalizer{client: client, logger: logger}
}

func (p *Personalizer) Personalize(ctx context.Context, b db.Business, emailType db.EmailType, draft outreach.Draft) (outreach.Draft, error) {
	body, err := p.client.GenerateText(ctx, systemPrompt, userPrompt(b, emailType, draft))
	if err != nil {
		return draft, fmt.Errorf("personalize email for business %d: %w", b.ID, err)
	}

	p.logger.Debug("email personalized",
		zap.Int64("business_id", b.ID),
		zap.String("type", string(emailType)),
		zap.Int("body_length", len(body)),
	)
	return outreach.Draft{Subject: draft.Subject, Body: body}, nil
}

func userPrompt(b db.Business, emailType db.EmailType, draft outreach.Draft) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Email type: %s\n", emailType)
	fmt.Fprintf(&sb, "Business: %s\n", b.Name)
	if b.Category != "" {
		fmt.Fprintf(&sb, "Category: %s\n", b.Category)
	}
	if b.Location != "" {
		fmt.Fprintf(&sb, "Location: %s\n", b.Location)
	}
	if b.ContactName != "" {
		fmt.Fprintf(&sb, "Contact: %s\n", b.ContactName)
	}
	fmt.Fprintf(&sb, "Subject: %s\n\nDraft:\n%s\n\nRewrite the draft for this business.", draft.Subject, draft.Body)
	return sb.String()
}
