package canopy

import (
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// connectTimeout bounds the initial broker connection.
const connectTimeout = 10 * time.Second

// NewMQTTOptions builds client options for the configured broker.
func NewMQTTOptions(cfg MQTTConfig) (*mqtt.ClientOptions, error) {
	if cfg.Broker == "" {
		return nil, &ConfigError{Field: "mqtt broker", Reason: "is required"}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = DefaultPublishPrefix
	}
	opts.SetClientID(clientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(false)

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("MQTT connection interrupted (%v), auto-reconnect will retry", err)
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		log.Println("MQTT reconnecting...")
	})
	return opts, nil
}

// ConnectMQTT connects client, waiting at most connectTimeout.
func ConnectMQTT(client mqtt.Client) error {
	log.Println("Connecting to MQTT broker...")
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("MQTT connection timeout after %v", connectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT connection failed: %w", err)
	}
	log.Println("Successfully connected to MQTT broker")
	return nil
}

// DialMQTT creates and connects a client for cfg.
func DialMQTT(cfg MQTTConfig) (mqtt.Client, error) {
	opts, err := NewMQTTOptions(cfg)
	if err != nil {
		return nil, err
	}
	client := mqtt.NewClient(opts)
	if err := ConnectMQTT(client); err != nil {
		return nil, err
	}
	return client, nil
}
