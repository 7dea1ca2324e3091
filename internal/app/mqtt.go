package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"printfleet/dashboard-server/internal/apperr"
	"printfleet/dashboard-server/internal/fleet"
	"printfleet/dashboard-server/internal/metrics"
	"printfleet/dashboard-server/internal/model"
	"printfleet/dashboard-server/internal/mqttbroker"
)

// MQTT topics printers publish on. The middle level is the printer document id.
const (
	TopicStatus = "printers/+/status"
	TopicEvents = "printers/+/events"
)

const maxIngestPayload = 512

type statusPayload struct {
	Online bool    `json:"online"`
	URL    *string `json:"url,omitempty"`
}

type eventPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Time    string `json:"time"`
}

func (a *App) handleMQTTPublish(ctx context.Context, msg mqttbroker.PublishMessage) {
	switch {
	case mqttbroker.TopicMatches(TopicStatus, msg.Topic):
		a.handlePrinterStatus(ctx, msg)
	case mqttbroker.TopicMatches(TopicEvents, msg.Topic):
		a.handlePrinterEvent(ctx, msg)
	default:
		metrics.MQTTMessage("other", "ignored")
	}
}

// printerFromTopic extracts the printer id from printers/<id>/<kind>.
func printerFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}

func (a *App) loadPrinter(ctx context.Context, id string) (model.Printer, error) {
	doc, err := a.store.GetDocument(ctx, fleet.CollectionPrinters, id)
	if err != nil {
		return model.Printer{}, err
	}
	return fleet.NormalizePrinter(doc), nil
}

func (a *App) handlePrinterStatus(ctx context.Context, msg mqttbroker.PublishMessage) {
	var payload statusPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		a.logger.Warn("mqtt payload decode failed", "topic", msg.Topic, "error", err)
		a.recordIngestionError(ctx, msg.Topic, msg.Payload, fmt.Errorf("decode payload: %w", err))
		metrics.MQTTMessage("status", "invalid")
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	id := printerFromTopic(msg.Topic)
	printer, err := a.loadPrinter(storeCtx, id)
	if err != nil {
		a.logger.Warn("status for unknown printer", "printer", id, "error", err)
		a.recordIngestionError(ctx, msg.Topic, msg.Payload, err)
		metrics.MQTTMessage("status", "rejected")
		return
	}

	if payload.Online {
		a.liveness.beat(id)
	} else {
		a.liveness.forget(id)
	}

	var patch fleet.PrinterPatch
	changed := false
	if printer.IsOnline != payload.Online {
		patch.IsOnline = &payload.Online
		changed = true
	}
	if payload.URL != nil && strings.TrimSpace(*payload.URL) != printer.URL {
		patch.URL = payload.URL
		changed = true
	}
	if !changed {
		metrics.MQTTMessage("status", "unchanged")
		return
	}

	if err := a.fleet.UpdatePrinter(storeCtx, id, patch); err != nil {
		a.logger.Error("failed to persist printer status", "printer", id, "error", err)
		a.recordIngestionError(ctx, msg.Topic, msg.Payload, err)
		metrics.MQTTMessage("status", "failed")
		return
	}
	metrics.MQTTMessage("status", "applied")

	if patch.IsOnline == nil {
		return
	}
	level, text := model.LevelSuccess, fmt.Sprintf("%s is online", printer.Label)
	if !payload.Online {
		level, text = model.LevelWarning, fmt.Sprintf("%s went offline", printer.Label)
	}
	if _, err := a.fleet.AppendLog(storeCtx, level, text, time.Time{}); err != nil {
		a.logger.Error("failed to append status log", "printer", id, "error", err)
	}
	a.logger.Info("printer status changed", "printer", id, "online", payload.Online)
}

func (a *App) handlePrinterEvent(ctx context.Context, msg mqttbroker.PublishMessage) {
	var payload eventPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		a.logger.Warn("mqtt payload decode failed", "topic", msg.Topic, "error", err)
		a.recordIngestionError(ctx, msg.Topic, msg.Payload, fmt.Errorf("decode payload: %w", err))
		metrics.MQTTMessage("event", "invalid")
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	id := printerFromTopic(msg.Topic)
	printer, err := a.loadPrinter(storeCtx, id)
	if err != nil {
		a.logger.Warn("event for unknown printer", "printer", id, "error", err)
		a.recordIngestionError(ctx, msg.Topic, msg.Payload, err)
		metrics.MQTTMessage("event", "rejected")
		return
	}

	level := model.Level(strings.ToLower(strings.TrimSpace(payload.Level)))
	if !level.Valid() {
		level = model.LevelInfo
	}

	at, err := time.Parse(time.RFC3339Nano, payload.Time)
	if err != nil {
		at = time.Time{}
	}

	message := strings.TrimSpace(payload.Message)
	if message == "" {
		err := apperr.Validation("event message is required")
		a.recordIngestionError(ctx, msg.Topic, msg.Payload, err)
		metrics.MQTTMessage("event", "invalid")
		return
	}

	// Events double as heartbeats.
	if printer.IsOnline {
		a.liveness.beat(id)
	}

	text := fmt.Sprintf("%s: %s", printer.Label, message)
	if _, err := a.fleet.AppendLog(storeCtx, level, text, at); err != nil {
		a.logger.Error("failed to persist printer event", "printer", id, "error", err)
		metrics.MQTTMessage("event", "failed")
		return
	}
	metrics.MQTTMessage("event", "applied")
}

// recordIngestionError surfaces a rejected MQTT message in the activity log.
func (a *App) recordIngestionError(ctx context.Context, topic string, payload []byte, cause error) {
	if a.fleet == nil {
		return
	}

	recCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	text := fmt.Sprintf("rejected message on %s: %v (payload %s)", topic, cause, truncateString(string(payload), maxIngestPayload))
	if _, err := a.fleet.AppendLog(recCtx, model.LevelError, text, time.Time{}); err != nil {
		a.logger.Error("failed to persist ingestion error", "error", err)
	}
}

func truncateString(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
