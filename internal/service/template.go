package service

import (
	"strings"

	"github.com/mailpilot/crm-backend/internal/model"
)

// RenderTemplate substitutes {token} placeholders with values from data.
// Tokens without a value render as empty string, never as an error.
func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

// MergeFields builds the substitution map for one recipient. first_name
// is the first whitespace-separated word of the display name.
func MergeFields(r *model.Recipient) map[string]string {
	firstName := ""
	if fields := strings.Fields(r.Name); len(fields) > 0 {
		firstName = fields[0]
	}
	return map[string]string{
		"name":       r.Name,
		"first_name": firstName,
		"email":      r.Email,
		"company":    r.Company,
	}
}
