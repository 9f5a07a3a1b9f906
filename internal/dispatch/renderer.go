package dispatch

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/osteele/liquid"

	"github.com/ignite/outreach-engine/internal/domain"
)

// Renderer fills a step's Liquid subject and body from a profile snapshot.
// Missing variables render empty.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewRenderer creates a renderer with the outreach filters registered.
func NewRenderer() *Renderer {
	r := &Renderer{engine: liquid.NewEngine()}

	// {{ title | titlecase }}
	r.engine.RegisterFilter("titlecase", func(s string) string {
		words := strings.Fields(strings.ToLower(s))
		for i, w := range words {
			rs := []rune(w)
			rs[0] = unicode.ToUpper(rs[0])
			words[i] = string(rs)
		}
		return strings.Join(words, " ")
	})
	// {{ full_name | first_word }}
	r.engine.RegisterFilter("first_word", func(s string) string {
		if f := strings.Fields(s); len(f) > 0 {
			return f[0]
		}
		return ""
	})
	return r
}

// Bindings exposes the frozen profile facts to templates.
func Bindings(e *domain.CampaignEnrollment, step int, p *domain.EnrollmentProfile) map[string]interface{} {
	return map[string]interface{}{
		"first_name":   p.FirstName,
		"last_name":    p.LastName,
		"full_name":    p.FullName,
		"email":        p.Email,
		"title":        p.Title,
		"seniority":    p.Seniority,
		"department":   p.Department,
		"city":         p.City,
		"region":       p.Region,
		"country":      p.Country,
		"company_name": p.CompanyName,
		"company": map[string]interface{}{
			"name":     p.CompanyName,
			"domain":   p.CompanyDomain,
			"industry": p.CompanyIndustry,
			"size":     p.CompanySize,
		},
		"step":        step,
		"campaign_id": e.CampaignID,
		"sender": map[string]interface{}{
			"name":  e.Settings.FromName,
			"email": e.Settings.FromEmail,
		},
	}
}

// Render returns the subject and HTML body of step for p. Settings are
// frozen per enrollment, so parsed templates are cached by enrollment and
// step.
func (r *Renderer) Render(e *domain.CampaignEnrollment, step domain.SequenceStep, p *domain.EnrollmentProfile) (string, string, error) {
	b := Bindings(e, step.Number, p)
	subject, err := r.render(fmt.Sprintf("%s:%d:subject", e.ID, step.Number), step.Subject, b)
	if err != nil {
		return "", "", fmt.Errorf("step %d subject: %w", step.Number, err)
	}
	body, err := r.render(fmt.Sprintf("%s:%d:body", e.ID, step.Number), step.Body, b)
	if err != nil {
		return "", "", fmt.Errorf("step %d body: %w", step.Number, err)
	}
	return subject, body, nil
}

func (r *Renderer) render(key, src string, b map[string]interface{}) (string, error) {
	if cached, ok := r.cache.Load(key); ok {
		out, err := cached.(*liquid.Template).RenderString(b)
		if err != nil {
			return "", err
		}
		return out, nil
	}
	tpl, err := r.engine.ParseString(src)
	if err != nil {
		return "", err
	}
	r.cache.Store(key, tpl)
	out, err := tpl.RenderString(b)
	if err != nil {
		return "", err
	}
	return out, nil
}
