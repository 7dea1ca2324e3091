package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsServiceType = "_printfleet._tcp"
	mdnsDomain      = "local."
	mdnsLabelMax    = 63
)

// startMDNS advertises the broker so printers on the LAN can find it without configuration.
func (a *App) startMDNS(mqttPort int) error {
	if mqttPort <= 0 {
		return fmt.Errorf("invalid port %d", mqttPort)
	}

	a.stopMDNS()

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "printfleet"
	}

	instance := sanitizeMDNSInstance(fmt.Sprintf("Printer Fleet Dashboard (%s)", hostname))
	server, err := zeroconf.Register(instance, mdnsServiceType, mdnsDomain, mqttPort, a.mdnsTXT(mqttPort, hostname), nil)
	if err != nil {
		return fmt.Errorf("register mdns service: %w", err)
	}

	a.mdns = server
	a.logger.Info("mDNS advertisement started", "instance", instance, "service", mdnsServiceType, "port", mqttPort)
	return nil
}

func (a *App) stopMDNS() {
	if a.mdns == nil {
		return
	}

	a.mdns.Shutdown()
	a.logger.Info("mDNS advertisement stopped")
	a.mdns = nil
}

// mdnsTXT lists what a printer needs to reach the dashboard: topics, ports and whether the feed
// wants a key.
func (a *App) mdnsTXT(mqttPort int, hostname string) []string {
	host := sanitizeMDNSHost(hostname)
	if !strings.Contains(host, ".") {
		host += ".local"
	}
	return []string{
		fmt.Sprintf("mqtt_port=%d", mqttPort),
		fmt.Sprintf("http_port=%d", a.cfg.HTTPPort),
		"status_topic=" + TopicStatus,
		"events_topic=" + TopicEvents,
		"feed=/ws/feed",
		fmt.Sprintf("auth=%t", a.cfg.APIKey != ""),
		"host=" + host,
	}
}

func truncateLabel(s string) string {
	if runes := []rune(s); len(runes) > mdnsLabelMax {
		return string(runes[:mdnsLabelMax])
	}
	return s
}

func sanitizeMDNSInstance(name string) string {
	cleaned := strings.NewReplacer("\n", " ", "\r", " ", ".", " ", "_", " ").Replace(strings.TrimSpace(name))
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		cleaned = "Printer Fleet Dashboard"
	}
	return truncateLabel(cleaned)
}

func sanitizeMDNSHost(name string) string {
	cleaned := strings.NewReplacer(" ", "-", "_", "-", "\n", "", "\r", "").Replace(strings.ToLower(strings.TrimSpace(name)))
	if cleaned == "" {
		cleaned = "printfleet"
	}
	return truncateLabel(cleaned)
}
