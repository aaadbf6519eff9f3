package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/events"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/logging"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/middleware"
)

// ReceiveWebhook ingests one webhook delivery: a single event envelope or
// an array of them. Malformed or unsupported envelopes are counted and
// skipped so one bad event never drops the rest of the delivery; the
// surviving events land in the store through a single pipeline.
func (h *Handler) ReceiveWebhook(c *gin.Context) {
	start := time.Now()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, "Failed to read request body.")
		return
	}
	batch, err := events.ParseBatch(body)
	if err != nil {
		if h.metrics != nil {
			h.metrics.WebhookEvents.WithLabelValues("batch", "rejected").Inc()
		}
		badRequest(c, "Invalid JSON payload.")
		return
	}
	h.recordBatch(batch)

	if batch.Size() > 0 {
		if err := h.writer.WriteBatch(c.Request.Context(), batch); err != nil {
			middleware.GetContextLogger(c, h.logger).WithError(err).WithFields(logging.Fields{
				"events": batch.Size(),
			}).Error("Failed to store webhook batch")
			if h.metrics != nil {
				h.metrics.WebhookEvents.WithLabelValues("batch", "store_failed").Inc()
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store events."})
			return
		}
	}

	if h.metrics != nil {
		h.metrics.WriteDuration.WithLabelValues("webhook").Observe(time.Since(start).Seconds())
	}
	c.JSON(http.StatusOK, gin.H{
		"processed": batch.Size(),
		"failed":    batch.Invalid + batch.Unsupported,
	})
}

func (h *Handler) recordBatch(b *events.Batch) {
	if h.metrics == nil {
		return
	}
	we := h.metrics.WebhookEvents
	we.WithLabelValues(events.DomainPokemon, "processed").Add(float64(len(b.Pokemon)))
	we.WithLabelValues(events.DomainRaid, "processed").Add(float64(len(b.Raids)))
	we.WithLabelValues(events.DomainQuest, "processed").Add(float64(len(b.Quests)))
	we.WithLabelValues(events.DomainInvasion, "processed").Add(float64(len(b.Invasions)))
	if b.Invalid > 0 {
		we.WithLabelValues("unknown", "invalid").Add(float64(b.Invalid))
	}
	if b.Unsupported > 0 {
		we.WithLabelValues("unknown", "unsupported").Add(float64(b.Unsupported))
	}
}
