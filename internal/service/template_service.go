// internal/service/template_service.go
package service

import (
	"strings"

	"github.com/unclebandit/outreach-funnel/internal/model"
)

// RenderTemplate replaces {key} placeholders. Empty values render as <unknown>.
func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		if v == "" {
			v = "<unknown>"
		}
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

func ProspectPlaceholders(p *model.Prospect) map[string]string {
	return map[string]string{
		"first_name":  p.FirstName,
		"last_name":   p.LastName,
		"name":        p.Name(),
		"email":       p.Email,
		"linkedin_id": p.LinkedInID,
	}
}
