package canopy

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultPublishPrefix is the topic prefix used when none is configured.
const DefaultPublishPrefix = "canopymesh"

// ProgressMessage is published for every finished tile.
type ProgressMessage struct {
	RunID string `json:"runId"`
	TileProgress
	Timestamp int64 `json:"timestamp"`
}

// RunMessage is published when a run completes.
type RunMessage struct {
	RunID     string  `json:"runId"`
	Raster    string  `json:"raster"`
	EPSG      int     `json:"epsg,omitempty"`
	Crowns    int     `json:"crowns"`
	Summary   Summary `json:"summary"`
	Timestamp int64   `json:"timestamp"`
}

// Publisher reports run progress and results over MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	lastRun       *RunMessage
	mu            sync.RWMutex
}

// NewPublisher creates a new run publisher. An empty prefix falls back to
// MQTT_PUBLISH_PREFIX and then to DefaultPublishPrefix.
// If client is nil, publishing is disabled (for testing)
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = os.Getenv("MQTT_PUBLISH_PREFIX")
	}
	if prefix == "" {
		prefix = DefaultPublishPrefix
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,    // QoS 0 for progress updates (fire and forget)
		retain:        true, // Retain the latest run summary
	}
}

// Prefix returns the topic prefix.
func (p *Publisher) Prefix() string { return p.publishPrefix }

// PublishProgress publishes one tile's progress to <prefix>/progress.
// Progress messages are never retained.
func (p *Publisher) PublishProgress(runID string, tp TileProgress) error {
	msg := ProgressMessage{RunID: runID, TileProgress: tp, Timestamp: time.Now().Unix()}
	return p.publish(fmt.Sprintf("%s/progress", p.publishPrefix), false, msg)
}

// PublishResult publishes a run summary to <prefix>/runs/<runID> and
// <prefix>/latest.
func (p *Publisher) PublishResult(res *Result) error {
	msg := &RunMessage{
		RunID:     res.RunID,
		Raster:    res.Raster,
		EPSG:      res.EPSG,
		Crowns:    len(res.Crowns),
		Summary:   res.Summary,
		Timestamp: time.Now().Unix(),
	}

	p.mu.Lock()
	p.lastRun = msg
	p.mu.Unlock()

	if err := p.publish(fmt.Sprintf("%s/runs/%s", p.publishPrefix, res.RunID), p.retain, msg); err != nil {
		log.Printf("Error publishing run %s: %v", res.RunID, err)
		return err
	}
	if err := p.publish(fmt.Sprintf("%s/latest", p.publishPrefix), p.retain, msg); err != nil {
		log.Printf("Error publishing latest run: %v", err)
		return err
	}

	log.Printf("Published run %s: %d crowns", res.RunID, msg.Crowns)
	return nil
}

func (p *Publisher) publish(topic string, retain bool, v any) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", topic, err)
	}

	token := p.client.Publish(topic, p.qos, retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// LastRun returns the most recently published run summary.
func (p *Publisher) LastRun() (RunMessage, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastRun == nil {
		return RunMessage{}, false
	}
	return *p.lastRun, true
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether run summaries should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
