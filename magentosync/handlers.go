package magentosync

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/shipstream/magento-sync/config"
	"github.com/shipstream/magento-sync/models"
	"github.com/shipstream/magento-sync/utils"
)

// CallbackAuthMiddleware authenticates fulfillment-platform callbacks with
// the shared callback key.
func CallbackAuthMiddleware(connector *Connector) gin.HandlerFunc {
	return func(c *gin.Context) {
		hash := connector.Settings().CallbackKeyHash
		if hash == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "callbacks not configured"})
			return
		}
		key := c.GetHeader("X-Callback-Key")
		if key == "" {
			key = c.Query("key")
		}
		if err := utils.CompareCallbackKey(hash, key); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// SyncOrdersHandler triggers a manual order sync. An optional "since" query
// parameter (YYYY-MM-DD) overrides the stored cursor.
func SyncOrdersHandler(connector *Connector) gin.HandlerFunc {
	return func(c *gin.Context) {
		since := strings.TrimSpace(c.Query("since"))
		err := connector.SyncOrders(c.Request.Context(), since, models.SyncTriggeredManual)
		if err != nil {
			if errors.Is(err, ErrValidation) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// SyncInventoryHandler triggers a manual inventory sync.
func SyncInventoryHandler(connector *Connector) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := connector.SyncInventory(c.Request.Context(), models.SyncTriggeredManual); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// ImportOrderHandler imports one order by its reference, synchronously.
func ImportOrderHandler(connector *Connector) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderRef := strings.TrimSpace(c.Param("orderRef"))
		if orderRef == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "order ref is required"})
			return
		}
		if err := connector.ImportOrder(c.Request.Context(), orderRef); err != nil {
			if errors.Is(err, ErrValidation) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// DiagnosticsHandler reports connection health.
func DiagnosticsHandler(connector *Connector) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"diagnostics": connector.Diagnostics(c.Request.Context())})
	}
}

// RegisterHandler registers this service's callback endpoint with the
// fulfillment platform.
func RegisterHandler(connector *Connector) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			CallbackURL string `json:"callback_url"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := connector.RegisterFulfillmentService(c.Request.Context(), strings.TrimSpace(req.CallbackURL)); err != nil {
			if errors.Is(err, ErrValidation) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "registered"})
	}
}

// UnregisterHandler removes the callback registration.
func UnregisterHandler(connector *Connector) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := connector.UnregisterFulfillmentService(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "unregistered"})
	}
}

// InventoryWithLockHandler serves the fulfillment platform's locked stock
// snapshot callback. An optional ?sku= narrows the snapshot.
func InventoryWithLockHandler(connector *Connector) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := connector.InventoryWithLock(c.Request.Context(), c.Query("sku"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// UnlockOrderImportHandler releases the lock held since InventoryWithLock.
func UnlockOrderImportHandler(connector *Connector) gin.HandlerFunc {
	return func(c *gin.Context) {
		connector.UnlockOrderImport(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"status": "unlocked"})
	}
}

// EventWebhookHandler accepts fulfillment platform events (shipment
// lifecycle, stock adjustments, delivery commits) and queues them as tasks.
func EventWebhookHandler(connector *Connector) gin.HandlerFunc {
	kinds := map[string]string{
		"inventory:adjusted":     TaskAdjustInventory,
		"delivery:committed":     TaskDeliveryCommitted,
		"shipment:packed":        TaskShipmentPacked,
		"shipment:shipped":       TaskShipmentShipped,
		"shipment:reverted":      TaskShipmentReverted,
		"shipment:labels_voided": TaskShipmentLabelsVoided,
	}
	return func(c *gin.Context) {
		var req struct {
			Topic   string          `json:"topic"`
			Message json.RawMessage `json:"message"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		kind, ok := kinds[req.Topic]
		if !ok {
			// Unknown topics are acknowledged, not errored, so the platform
			// does not retry events this connector does not care about.
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		task := Task{Kind: kind, Payload: req.Message}
		if err := connector.queue.Enqueue(c.Request.Context(), task); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "queued"})
	}
}

// SyncRunsHandler lists recent sync runs from the journal.
func SyncRunsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		db := config.GetDB()
		if db == nil {
			c.JSON(http.StatusOK, gin.H{"runs": []models.SyncRun{}})
			return
		}
		limit := 50
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
				limit = n
			}
		}
		var runs []models.SyncRun
		if err := db.WithContext(c.Request.Context()).Order("id desc").Limit(limit).Find(&runs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs})
	}
}

// PubSubPushHandler executes tasks delivered by a Pub/Sub push
// subscription. Permanent failures are acknowledged so the message is not
// redelivered forever.
func PubSubPushHandler(connector *Connector) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		var task Task
		if err := json.Unmarshal(envelope.Message.Data, &task); err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		if task.MessageId == "" {
			task.MessageId = envelope.Message.MessageId
		}

		if err := connector.HandleTask(c.Request.Context(), task); err != nil {
			if IsPermanent(err) {
				config.LogError(config.GetLogger(), "magentosync", "PubSubPushHandler", task.Kind, task, err)
				c.Status(http.StatusNoContent)
				return
			}
			// Non-2xx makes Pub/Sub redeliver.
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
