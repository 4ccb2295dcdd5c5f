package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"outreach/models"
)

func TestPersonalizeContent(t *testing.T) {
	lead := &models.Contact{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Company:   "Analytical Engines",
		Email:     "ada@engines.io",
		City:      "London",
	}
	sender := &models.EmailAccount{FromName: "Charles"}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"plain tokens", "Hi {{firstName}} at {{company}}", "Hi Ada at Analytical Engines"},
		{"whitespace inside braces", "Hi {{ fullName }}!", "Hi Ada Lovelace!"},
		{"account token", "Cheers, {{fromName}}", "Cheers, Charles"},
		{"empty value removed", "Hi {{firstName}} from {{industry}}", "Hi Ada from"},
		{"unknown token kept", "Hi {{nickname}}", "Hi {{nickname}}"},
		{"result trimmed", "  {{position}} {{city}}  ", "London"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PersonalizeContent(tt.template, lead, sender))
		})
	}
}

func TestPersonalizeContentWithoutAccount(t *testing.T) {
	lead := &models.Contact{FirstName: "Ada"}
	assert.Equal(t, "Ada,", PersonalizeContent("{{firstName}}, {{fromName}}", lead, nil))
}
