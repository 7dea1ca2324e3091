package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	json "github.com/goccy/go-json"
)

type statusPayload struct {
	Online bool   `json:"online"`
	URL    string `json:"url,omitempty"`
}

type eventPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Time    string `json:"time"`
}

var sampleEvents = []eventPayload{
	{Level: "info", Message: "Receipt printed"},
	{Level: "success", Message: "Paper roll replaced"},
	{Level: "warning", Message: "Paper low"},
	{Level: "warning", Message: "Print head temperature high"},
	{Level: "error", Message: "Paper jam"},
	{Level: "error", Message: "Cover open"},
}

func main() {
	brokerAddr := flag.String("broker", "tcp://localhost:1883", "MQTT broker address, e.g. tcp://localhost:1883")
	printerID := flag.String("printer-id", "", "Printer document id as registered with the dashboard")
	printerURL := flag.String("url", "", "Address the dashboard should send test prints to, e.g. tcp://10.0.0.5:9100")
	interval := flag.Duration("interval", 15*time.Second, "Interval between status heartbeats")
	eventChance := flag.Float64("event-chance", 0.3, "Probability of publishing an event with each heartbeat")

	flag.Parse()

	if *printerID == "" {
		log.Fatal("-printer-id is required")
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	clientID := fmt.Sprintf("%s-simulator-%d", *printerID, time.Now().UnixNano())
	opts := mqtt.NewClientOptions().AddBroker(*brokerAddr).SetClientID(clientID)
	opts = opts.SetOrderMatters(false).SetProtocolVersion(4)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to connect to broker: %v", token.Error())
	}
	log.Printf("connected to MQTT broker %s as %s", *brokerAddr, clientID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	send := func(topic string, v any) {
		data, err := json.Marshal(v)
		if err != nil {
			log.Printf("failed to encode payload: %v", err)
			return
		}
		token := client.Publish(topic, 0, false, data)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("publish error: %v", err)
			return
		}
		log.Printf("published %s %s", topic, data)
	}

	statusTopic := fmt.Sprintf("printers/%s/status", *printerID)
	eventsTopic := fmt.Sprintf("printers/%s/events", *printerID)

	heartbeat := func() {
		send(statusTopic, statusPayload{Online: true, URL: *printerURL})
		if rng.Float64() < *eventChance {
			ev := sampleEvents[rng.Intn(len(sampleEvents))]
			ev.Time = time.Now().UTC().Format(time.RFC3339Nano)
			send(eventsTopic, ev)
		}
	}

	heartbeat()

	for {
		select {
		case <-ctx.Done():
			log.Print("received shutdown signal, going offline")
			send(statusTopic, statusPayload{Online: false})
			client.Disconnect(250)
			return
		case <-ticker.C:
			heartbeat()
		}
	}
}
