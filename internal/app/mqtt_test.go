package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printfleet/dashboard-server/internal/fleet"
	"printfleet/dashboard-server/internal/model"
	"printfleet/dashboard-server/internal/mqttbroker"
)

func publish(a *App, topic, payload string) {
	a.handleMQTTPublish(context.Background(), mqttbroker.PublishMessage{ClientID: "sim", Topic: topic, Payload: []byte(payload)})
}

func hasLog(a *App, level model.Level, pred func(string) bool) bool {
	docs, err := a.store.QueryDocuments(context.Background(), fleet.LogsQuery(100))
	if err != nil {
		return false
	}
	for _, d := range docs {
		e := fleet.NormalizeLog(d)
		if e.Level == level && pred(e.Message) {
			return true
		}
	}
	return false
}

func TestStatusMessagesUpdatePrinter(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))
	ctx := context.Background()

	id, err := a.fleet.CreatePrinter(ctx, "Front Desk", "")
	require.NoError(t, err)

	publish(a, "printers/"+id+"/status", `{"online":true,"url":"tcp://10.0.0.7:9100"}`)

	p, err := a.loadPrinter(ctx, id)
	require.NoError(t, err)
	assert.True(t, p.IsOnline)
	assert.Equal(t, "tcp://10.0.0.7:9100", p.URL)
	assert.True(t, hasLog(a, model.LevelSuccess, func(m string) bool { return m == "Front Desk is online" }))
	assert.False(t, a.liveness.stale(id))

	publish(a, "printers/"+id+"/status", `{"online":false}`)
	p, err = a.loadPrinter(ctx, id)
	require.NoError(t, err)
	assert.False(t, p.IsOnline)
	assert.Equal(t, "tcp://10.0.0.7:9100", p.URL)
	assert.True(t, hasLog(a, model.LevelWarning, func(m string) bool { return m == "Front Desk went offline" }))
}

func TestRejectedMessagesAreLogged(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))

	publish(a, "printers/ghost/status", `{"online":true}`)
	publish(a, "printers/ghost/events", `not json`)

	assert.True(t, hasLog(a, model.LevelError, func(m string) bool {
		return strings.HasPrefix(m, "rejected message on printers/ghost/status") && strings.Contains(m, "not found")
	}))
	assert.True(t, hasLog(a, model.LevelError, func(m string) bool {
		return strings.HasPrefix(m, "rejected message on printers/ghost/events: decode payload")
	}))
}

func TestEventsBecomeLogEntries(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))

	id, err := a.fleet.CreatePrinter(context.Background(), "Kitchen", "Back")
	require.NoError(t, err)

	publish(a, "printers/"+id+"/events", `{"level":"WARNING","message":"Paper low","time":"2026-01-28T14:45:00Z"}`)
	publish(a, "printers/"+id+"/events", `{"level":"shouting","message":"Door open"}`)
	publish(a, "printers/"+id+"/events", `{"level":"info","message":"   "}`)

	docs, err := a.store.QueryDocuments(context.Background(), fleet.LogsQuery(100))
	require.NoError(t, err)

	var entries []model.LogEntry
	for _, d := range docs {
		entries = append(entries, fleet.NormalizeLog(d))
	}

	var paper, door *model.LogEntry
	for i := range entries {
		switch entries[i].Message {
		case "Kitchen: Paper low":
			paper = &entries[i]
		case "Kitchen: Door open":
			door = &entries[i]
		}
	}
	require.NotNil(t, paper)
	require.NotNil(t, door)
	assert.Equal(t, model.LevelWarning, paper.Level)
	assert.True(t, paper.Time.Equal(time.Date(2026, 1, 28, 14, 45, 0, 0, time.UTC)))
	assert.Equal(t, model.LevelInfo, door.Level)

	assert.True(t, hasLog(a, model.LevelError, func(m string) bool { return strings.Contains(m, "event message is required") }))
}

func TestLivenessSweepMarksStalePrintersOffline(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))
	ctx := context.Background()

	clock := time.Now()
	a.liveness.now = func() time.Time { return clock }

	online := true
	quietID, err := a.fleet.CreatePrinter(ctx, "Quiet", "")
	require.NoError(t, err)
	require.NoError(t, a.fleet.UpdatePrinter(ctx, quietID, fleet.PrinterPatch{IsOnline: &online}))

	chattyID, err := a.fleet.CreatePrinter(ctx, "Chatty", "")
	require.NoError(t, err)
	require.NoError(t, a.fleet.UpdatePrinter(ctx, chattyID, fleet.PrinterPatch{IsOnline: &online}))

	clock = clock.Add(2 * time.Minute)
	a.liveness.beat(chattyID)

	a.sweepLiveness(ctx)

	silent, err := a.loadPrinter(ctx, quietID)
	require.NoError(t, err)
	assert.False(t, silent.IsOnline)

	chatty, err := a.loadPrinter(ctx, chattyID)
	require.NoError(t, err)
	assert.True(t, chatty.IsOnline)

	assert.True(t, hasLog(a, model.LevelWarning, func(m string) bool { return m == "Quiet stopped responding" }))
	assert.False(t, hasLog(a, model.LevelWarning, func(m string) bool { return m == "Chatty stopped responding" }))
}

func TestLivenessScheduleIsValidated(t *testing.T) {
	cfg := testConfig(t)
	cfg.LivenessSchedule = "whenever"
	a, _ := newTestApp(t, cfg)

	_, err := a.startLivenessSweep(context.Background())
	assert.ErrorContains(t, err, "schedule liveness sweep")

	a.cfg.LivenessSchedule = "@every 1h"
	c, err := a.startLivenessSweep(context.Background())
	require.NoError(t, err)
	<-c.Stop().Done()
}

func TestPrinterFromTopic(t *testing.T) {
	assert.Equal(t, "p1", printerFromTopic("printers/p1/status"))
	assert.Equal(t, "", printerFromTopic("printers/p1"))
	assert.Equal(t, "", printerFromTopic("printers/p1/status/extra"))
}

func TestMDNSNames(t *testing.T) {
	assert.Equal(t, "Printer Fleet Dashboard (host local)", sanitizeMDNSInstance("Printer Fleet Dashboard (host.local)"))
	assert.Equal(t, "Printer Fleet Dashboard", sanitizeMDNSInstance(" \n "))
	assert.Equal(t, "front-desk-pi", sanitizeMDNSHost("Front Desk_Pi"))
	assert.Equal(t, "printfleet", sanitizeMDNSHost(""))
	assert.Len(t, []rune(sanitizeMDNSHost(strings.Repeat("a", 80))), mdnsLabelMax)

	a := New(testConfig(t), quiet)
	a.cfg.APIKey = "k"
	txt := a.mdnsTXT(1883, "Front Desk")
	assert.Contains(t, txt, "mqtt_port=1883")
	assert.Contains(t, txt, "http_port=8080")
	assert.Contains(t, txt, "status_topic=printers/+/status")
	assert.Contains(t, txt, "auth=true")
	assert.Contains(t, txt, "host=front-desk.local")
}
