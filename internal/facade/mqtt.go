package facade

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/joshp123/thinq/internal/config"
	"github.com/joshp123/thinq/internal/poller"
)

// StatePublisher mirrors published snapshots to an MQTT broker. Messages are
// retained so a consumer connecting later sees the current state immediately.
type StatePublisher struct {
	client      mqtt.Client
	topicPrefix string
}

func NewStatePublisher(cfg *config.MQTTConfig) (*StatePublisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("missing mqtt config")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker: %w", token.Error())
	}

	return &StatePublisher{client: client, topicPrefix: cfg.TopicPrefix}, nil
}

// Publish mirrors one device state to <prefix>/<deviceID>/state. Broker
// trouble is logged, never propagated; MQTT is a mirror, not the source of
// truth.
func (p *StatePublisher) Publish(state poller.DeviceState) {
	payload, err := json.Marshal(state)
	if err != nil {
		log.Printf("mqtt: marshal state for %s: %v", state.DeviceID, err)
		return
	}
	topic := fmt.Sprintf("%s/%s/state", p.topicPrefix, state.DeviceID)
	token := p.client.Publish(topic, 0, true, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Printf("mqtt: publish %s: %v", topic, token.Error())
		}
	}()
}

func (p *StatePublisher) Close() {
	p.client.Disconnect(250)
}
