package controller

import (
	"sync"

	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"outreach/utils"
	"outreach/worker"
)

const progressBuffer = 32

type progressClient struct {
	userID     uint
	campaignID uint // 0 subscribes to every campaign of the user
	send       chan worker.Event
}

func (pc *progressClient) wants(e worker.Event) bool {
	if e.UserID != 0 && e.UserID != pc.userID {
		return false
	}
	return pc.campaignID == 0 || e.CampaignID == 0 || e.CampaignID == pc.campaignID
}

// ProgressHub fans worker events out to connected websocket clients. It is
// the EventSink handed to the workers.
type ProgressHub struct {
	mu      sync.RWMutex
	clients map[*progressClient]struct{}
	logger  *logrus.Entry
}

func NewProgressHub(logger *logrus.Entry) *ProgressHub {
	if logger == nil {
		logger = logrus.WithField("component", "progress_hub")
	}
	return &ProgressHub{clients: map[*progressClient]struct{}{}, logger: logger}
}

// Publish never blocks; slow clients miss events.
func (h *ProgressHub) Publish(e worker.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for pc := range h.clients {
		if !pc.wants(e) {
			continue
		}
		select {
		case pc.send <- e:
		default:
		}
	}
}

func (h *ProgressHub) subscribe(userID, campaignID uint) *progressClient {
	pc := &progressClient{userID: userID, campaignID: campaignID, send: make(chan worker.Event, progressBuffer)}
	h.mu.Lock()
	h.clients[pc] = struct{}{}
	h.mu.Unlock()
	return pc
}

func (h *ProgressHub) unsubscribe(pc *progressClient) {
	h.mu.Lock()
	delete(h.clients, pc)
	h.mu.Unlock()
}

// HandleCampaignProgressWS streams send and reply events for the
// authenticated user, optionally narrowed with ?campaign_id=.
func (h *ProgressHub) HandleCampaignProgressWS(c *websocket.Conn) {
	defer c.Close()

	userID, _ := c.Locals("userID").(uint)
	if userID == 0 {
		return
	}
	pc := h.subscribe(userID, utils.ParseUint(c.Query("campaign_id")))
	defer h.unsubscribe(pc)

	log := h.logger.WithFields(logrus.Fields{"user_id": userID, "campaign_id": pc.campaignID})
	log.Debug("Progress client connected")

	// Reads only detect the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case e := <-pc.send:
			if err := c.WriteJSON(e); err != nil {
				log.WithError(err).Debug("Progress client write failed")
				return
			}
		case <-done:
			log.Debug("Progress client disconnected")
			return
		}
	}
}
