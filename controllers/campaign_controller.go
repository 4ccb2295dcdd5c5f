package controller

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"outreach/models"
	"outreach/repository"
	"outreach/utils"
	"outreach/worker"
)

// SendRunner is the part of the send worker exposed over HTTP.
type SendRunner interface {
	RunCycle(ctx context.Context) worker.CycleReport
	RescheduleCampaign(ctx context.Context, campaignID uint) (int, error)
}

// ReplyRunner is the part of the reply worker exposed over HTTP.
type ReplyRunner interface {
	RunCycle(ctx context.Context, force bool) worker.ReplyCycleReport
}

type CampaignController struct {
	repo    repository.Repository
	sender  SendRunner
	replies ReplyRunner
	logger  *logrus.Entry
	now     func() time.Time
}

func NewCampaignController(repo repository.Repository, sender SendRunner, replies ReplyRunner, logger *logrus.Entry) *CampaignController {
	if logger == nil {
		logger = logrus.WithField("component", "campaign_controller")
	}
	return &CampaignController{
		repo:    repo,
		sender:  sender,
		replies: replies,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type accountUsage struct {
	ID        uint    `json:"id"`
	Email     string  `json:"email"`
	IsActive  bool    `json:"is_active"`
	SentToday int     `json:"sent_today"`
	Limit     int     `json:"daily_limit"`
	Remaining int     `json:"remaining"`
	LastError *string `json:"last_error,omitempty"`
}

type windowStatus struct {
	Open   bool   `json:"open"`
	Reason string `json:"reason"`
}

// ownedCampaign loads the campaign in :id and checks it belongs to the caller.
func (cc *CampaignController) ownedCampaign(c *fiber.Ctx) (*models.Campaign, *models.User, error) {
	user := c.Locals("user").(*models.User)

	id := utils.ParseUint(c.Params("id"))
	if id == 0 {
		return nil, nil, utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid campaign ID", nil)
	}

	campaign, err := cc.repo.GetCampaign(c.UserContext(), id)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && campaign.UserID != user.ID) {
		return nil, nil, utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	}
	if err != nil {
		cc.logger.WithError(err).WithField("campaign_id", id).Error("Failed to load campaign")
		return nil, nil, utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load campaign", nil)
	}
	return campaign, user, nil
}

// GetCampaignStats returns counters, rotation cursors, account usage and the
// current state of the sending window.
func (cc *CampaignController) GetCampaignStats(c *fiber.Ctx) error {
	campaign, user, err := cc.ownedCampaign(c)
	if campaign == nil {
		return err
	}

	now := cc.now()
	accounts, err := cc.repo.AccountsByIDs(c.UserContext(), campaign.EmailAccountIDs)
	if err != nil {
		cc.logger.WithError(err).WithField("campaign_id", campaign.ID).Error("Failed to load campaign accounts")
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load email accounts", nil)
	}
	usage := make([]accountUsage, 0, len(accounts))
	for i := range accounts {
		a := &accounts[i]
		sent := a.SendsToday(now)
		usage = append(usage, accountUsage{
			ID:        a.ID,
			Email:     a.Email,
			IsActive:  a.IsActive,
			SentToday: sent,
			Limit:     a.Limit(),
			Remaining: max(a.Limit()-sent, 0),
			LastError: a.LastError,
		})
	}

	replyRate := 0.0
	if campaign.StatsSent > 0 {
		replyRate = float64(campaign.StatsReplied) / float64(campaign.StatsSent) * 100
	}
	open, reason := utils.IsWithinSchedule(campaign.Schedule, now, user.Timezone)

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"campaign_id":               campaign.ID,
		"name":                      campaign.Name,
		"is_active":                 campaign.IsActive,
		"sent":                      campaign.StatsSent,
		"replied":                   campaign.StatsReplied,
		"reply_rate":                replyRate,
		"contacts":                  len(campaign.ContactIDs),
		"active_steps":              len(campaign.ActiveSequences()),
		"next_email_account_to_use": campaign.NextEmailAccountToUse,
		"next_contact_to_use":       campaign.NextContactToUse,
		"last_processed_at":         campaign.LastProcessedAt,
		"accounts":                  usage,
		"window":                    windowStatus{Open: open, Reason: reason},
	}))
}

// GetScheduleStatus reports whether the campaign may send right now.
func (cc *CampaignController) GetScheduleStatus(c *fiber.Ctx) error {
	campaign, user, err := cc.ownedCampaign(c)
	if campaign == nil {
		return err
	}
	open, reason := utils.IsWithinSchedule(campaign.Schedule, cc.now(), user.Timezone)
	return c.JSON(utils.SuccessResponse(windowStatus{Open: open, Reason: reason}))
}

// RescheduleCampaign recomputes contact schedules after a sequence edit.
func (cc *CampaignController) RescheduleCampaign(c *fiber.Ctx) error {
	campaign, _, err := cc.ownedCampaign(c)
	if campaign == nil {
		return err
	}

	updated, err := cc.sender.RescheduleCampaign(c.UserContext(), campaign.ID)
	if err != nil {
		cc.logger.WithError(err).WithField("campaign_id", campaign.ID).Warn("Reschedule failed")
		return utils.ErrorResponse(c, fiber.StatusConflict, "Failed to reschedule campaign", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"campaign_id": campaign.ID,
		"updated":     updated,
	}))
}

// RunSendCycle triggers one send cycle over every tenant immediately and
// returns its report. Routed for admins only.
func (cc *CampaignController) RunSendCycle(c *fiber.Ctx) error {
	report := cc.sender.RunCycle(c.UserContext())
	return c.JSON(utils.SuccessResponse(report))
}

// RunReplyCycle polls every mailbox immediately. Routed for admins only.
func (cc *CampaignController) RunReplyCycle(c *fiber.Ctx) error {
	report := cc.replies.RunCycle(c.UserContext(), true)
	return c.JSON(utils.SuccessResponse(report))
}
