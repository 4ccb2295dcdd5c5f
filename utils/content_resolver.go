package utils

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"outreach/models"
	"outreach/repository"
)

const StageResolveContent = "resolve_content"

// Content is the final subject and body of one email.
type Content struct {
	Subject string
	Body    string
}

// ResolveInput identifies the email being rendered.
type ResolveInput struct {
	CampaignID uint
	Step       models.SequenceStep
	Contact    *models.Contact
	Account    *models.EmailAccount
	User       *models.User
}

// ContentResolver renders a sequence step for a contact using templates or
// AI generation, and audits every field it produces.
type ContentResolver struct {
	enricher     ContentEnricher
	personalizer Personalizer
	audit        repository.AuditStore
	logger       *logrus.Entry
}

func NewContentResolver(enricher ContentEnricher, personalizer Personalizer, audit repository.AuditStore, logger *logrus.Entry) *ContentResolver {
	if logger == nil {
		logger = logrus.WithField("component", "content_resolver")
	}
	return &ContentResolver{
		enricher:     enricher,
		personalizer: personalizer,
		audit:        audit,
		logger:       logger,
	}
}

func (r *ContentResolver) Resolve(ctx context.Context, in ResolveInput) (Content, error) {
	log := r.logger.WithFields(logrus.Fields{
		"campaign_id": in.CampaignID,
		"contact_id":  in.Contact.ID,
	})

	var website string
	if (in.Step.UseAIForSubject || in.Step.UseAIForContent) && in.Contact.Website != "" && r.enricher != nil {
		text, err := r.enricher.Fetch(ctx, in.Contact.Website)
		if err != nil {
			log.WithError(err).Info("Website enrichment skipped")
		} else {
			website = text
		}
	}

	subject := r.field(ctx, in, log, models.PersonalizationSubject, in.Step.UseAIForSubject, in.Step.AISubjectPrompt, in.Step.Subject, website)
	body := r.field(ctx, in, log, models.PersonalizationContent, in.Step.UseAIForContent, in.Step.AIContentPrompt, in.Step.Content, website)

	if subject == "" {
		return Content{}, Skip(StageResolveContent, "subject is empty after personalization")
	}
	if body == "" {
		return Content{}, Skip(StageResolveContent, "content is empty after personalization")
	}
	return Content{Subject: subject, Body: body}, nil
}

func (r *ContentResolver) field(ctx context.Context, in ResolveInput, log *logrus.Entry, kind string, useAI bool, prompt, template, website string) string {
	entry := models.PersonalizationLog{
		CampaignID: in.CampaignID,
		ContactID:  in.Contact.ID,
		Type:       kind,
	}
	if in.User != nil {
		entry.UserID = in.User.ID
	}

	if useAI && prompt != "" && r.personalizer != nil {
		res := r.personalizer.Generate(ctx, PersonalizationRequest{
			Prompt:         prompt,
			Contact:        in.Contact,
			Account:        in.Account,
			User:           in.User,
			WebsiteURL:     in.Contact.Website,
			WebsiteContent: website,
		})
		entry.Provider = res.Provider
		entry.AIModel = res.Model
		entry.Prompt = prompt
		entry.Result = res.Text
		entry.ProcessingTime = res.Latency.Seconds()
		entry.WebsiteData = website
		entry.Fallback = res.Fallback
		r.record(ctx, log, entry)
		return res.Text
	}

	start := time.Now()
	text := PersonalizeContent(template, in.Contact, in.Account)
	entry.Provider = models.ProviderManual
	entry.Prompt = template
	entry.Result = text
	entry.ProcessingTime = time.Since(start).Seconds()
	r.record(ctx, log, entry)
	return text
}

func (r *ContentResolver) record(ctx context.Context, log *logrus.Entry, entry models.PersonalizationLog) {
	if r.audit == nil {
		return
	}
	if err := r.audit.CreatePersonalizationLog(ctx, &entry); err != nil {
		log.WithError(err).Warn("Failed to save personalization log")
	}
}
