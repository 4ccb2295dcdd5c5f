package utils

import (
	"regexp"
	"strings"

	"outreach/models"
)

var placeholder = regexp.MustCompile(`{{\s*([A-Za-z]+)\s*}}`)

// TemplateValues returns the substitution values for a contact and sending
// account, keyed by placeholder name.
func TemplateValues(contact *models.Contact, account *models.EmailAccount) map[string]string {
	values := map[string]string{
		"firstName":       contact.FirstName,
		"lastName":        contact.LastName,
		"fullName":        contact.FullName(),
		"company":         contact.Company,
		"position":        contact.Position,
		"email":           contact.Email,
		"phone":           contact.Phone,
		"website":         contact.Website,
		"city":            contact.City,
		"state":           contact.State,
		"country":         contact.Country,
		"industry":        contact.Industry,
		"personalization": contact.Personalization,
		"fromName":        "",
	}
	if account != nil {
		values["fromName"] = account.FromName
	}
	return values
}

// PersonalizeContent replaces {{ field }} placeholders with contact and
// account values. Known fields without a value are removed; unknown
// placeholders are left as written.
func PersonalizeContent(template string, contact *models.Contact, account *models.EmailAccount) string {
	values := TemplateValues(contact, account)
	out := placeholder.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]
		value, known := values[name]
		if !known {
			return match
		}
		return value
	})
	return strings.TrimSpace(out)
}
