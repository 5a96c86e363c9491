// Package bridge forwards registry change notifications to external
// consumers. The MQTT publisher is the reference collaborator: every
// ObjectChange record is marshaled to JSON and published under a
// per-object topic.
package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/srg/bletrack/internal/observe"
	"github.com/srg/bletrack/internal/registry"
)

// defaultPublishTimeout bounds how long a publish may block the consumer
// loop.
const defaultPublishTimeout = 5 * time.Second

// Publisher is the narrow slice of mqtt.Client the bridge needs; tests
// substitute a fake.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// changePayload is the wire form of one change record.
type changePayload struct {
	Object   string `json:"object"`
	Change   string `json:"change"`
	Property string `json:"property,omitempty"`
	Time     string `json:"time"`
}

// MQTTBridge publishes registry change notifications to an MQTT broker.
// Observer callbacks must be total, so publish failures are logged and
// counted, never propagated.
type MQTTBridge struct {
	client      Publisher
	topicPrefix string
	qos         byte
	logger      *logrus.Logger
	now         func() time.Time

	dropped uint64
}

// Options configures an MQTTBridge.
type Options struct {
	TopicPrefix string
	QoS         byte
}

// New creates a bridge over an already-constructed client.
func New(client Publisher, opts Options, logger *logrus.Logger) *MQTTBridge {
	if logger == nil {
		logger = logrus.New()
	}
	prefix := opts.TopicPrefix
	if prefix == "" {
		prefix = "bletrack/changes"
	}
	return &MQTTBridge{
		client:      client,
		topicPrefix: prefix,
		qos:         opts.QoS,
		logger:      logger,
		now:         time.Now,
	}
}

// Connect builds a paho client for broker and waits for the session. The
// returned client satisfies Publisher.
func Connect(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(defaultPublishTimeout) {
		return nil, fmt.Errorf("connect to %s: timeout after %v", broker, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", broker, err)
	}
	return client, nil
}

// Topic returns the topic a change record is published under:
// <prefix>/<type_name>/<unique_id>.
func (b *MQTTBridge) Topic(id observe.ObjectID) string {
	return b.topicPrefix + "/" + id.TypeName + "/" + id.UniqueID
}

// Handle processes one change record. Exposed so tests can drive the bridge
// without a registry.
func (b *MQTTBridge) Handle(change observe.ObjectChange) {
	payload, err := json.Marshal(changePayload{
		Object:   change.ID.String(),
		Change:   change.Type.String(),
		Property: change.Property,
		Time:     b.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		b.dropped++
		b.logger.WithField("error", err).Warn("Failed to marshal change record")
		return
	}

	token := b.client.Publish(b.Topic(change.ID), b.qos, false, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		b.dropped++
		b.logger.WithField("topic", b.Topic(change.ID)).Warn("Publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		b.dropped++
		b.logger.WithFields(logrus.Fields{
			"topic": b.Topic(change.ID),
			"error": err,
		}).Warn("Publish failed")
	}
}

// AttachTo registers the bridge as a registry observer and returns the
// handle for detaching.
func (b *MQTTBridge) AttachTo(r *registry.Registry) observe.Handle {
	return r.Observe(b.Handle)
}

// Dropped returns the number of change records that could not be published.
func (b *MQTTBridge) Dropped() uint64 {
	return b.dropped
}
