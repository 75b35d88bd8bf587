package clientmqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"dmxd/internal/engine"
	"dmxd/internal/logger"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const queueSize = 64

// ClientMQTT структура клиента MQTT.
// It relays universe changes to the broker and takes control commands from it.
type ClientMQTT struct {
	ctx       context.Context
	log       logger.Logger
	cfgClient MQTTConf
	client    mqtt.Client
	opts      *mqtt.ClientOptions
	handle    CommandHandler
	updates   chan update

	mu       sync.Mutex
	last     map[engine.Kind]engine.Universe
	stopping bool
	wg       sync.WaitGroup
}

// NewClient конструктор.
func NewClient(log logger.Logger, cfgClient MQTTConf, handle CommandHandler) *ClientMQTT {
	return &ClientMQTT{
		log:       log,
		cfgClient: cfgClient,
		handle:    handle,
		updates:   make(chan update, queueSize),
		last:      map[engine.Kind]engine.Universe{},
	}
}

func (c *ClientMQTT) topic(name string) string {
	return c.cfgClient.TopicPrefix + "/" + name
}

func (c *ClientMQTT) Start(ctx context.Context) error {
	// TODO перенаправить в logger
	if c.log.GetLevel() == "debug" {
		mqtt.ERROR = log.New(os.Stdout, "[ERROR] ", 0)
		mqtt.CRITICAL = log.New(os.Stdout, "[CRIT] ", 0)
		mqtt.WARN = log.New(os.Stdout, "[WARN]  ", 0)
	}

	c.ctx = ctx
	c.opts = mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%s", c.cfgClient.Schema, c.cfgClient.Host, c.cfgClient.Port)).
		SetUsername(c.cfgClient.User).
		SetPassword(c.cfgClient.Password).
		SetDefaultPublishHandler(c.messageHandler).
		SetOnConnectHandler(c.connectHandler).
		SetConnectionLostHandler(c.connectLostHandler).
		SetClientID(c.cfgClient.ClientID).
		SetOrderMatters(true).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)

	return c.start(ctx, mqtt.NewClient(c.opts))
}

// start connects client and spawns the publisher.
func (c *ClientMQTT) start(ctx context.Context, client mqtt.Client) error {
	c.ctx = ctx
	c.client = client

	token := c.client.Connect()
	select {
	case <-token.Done():
		if token.Error() != nil {
			return token.Error()
		}
	case <-ctx.Done():
		return errors.New("context canceled")
	}

	c.wg.Add(1)
	go c.publisher()

	c.log.With(logger.Fields{"module": "mqtt"}).Infof("Status: %v", c.client.IsConnected())
	return nil
}

func (c *ClientMQTT) Stop() error {
	c.mu.Lock()
	c.stopping = true
	c.mu.Unlock()
	c.wg.Wait()
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(500)
	}
	return nil
}

// Publish implements engine.Observer. Only the channels changed since the
// last queued update are sent. A full queue drops the update and keeps the
// old baseline, so the next Publish carries the missed changes.
func (c *ClientMQTT) Publish(kind engine.Kind, u engine.Universe) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.last[kind]
	diff := engine.Diff(&prev, &u)
	if len(diff) == 0 {
		return
	}
	payload := make(Payload, len(diff))
	for i, cv := range diff {
		payload[i] = DMXCommand{Channel: cv.Channel, Value: cv.Value}
	}

	select {
	case c.updates <- update{topic: c.topic(kind.String()), payload: payload}:
		c.last[kind] = u
	default:
		c.log.With(logger.Fields{"module": "mqtt", "topic": kind.String()}).Debug("publish queue full, update dropped")
	}
}

func (c *ClientMQTT) publisher() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case u := <-c.updates:
			c.pub(u.topic, u.payload)
		}
	}
}

func (c *ClientMQTT) pub(topic string, v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		c.log.With(logger.Fields{"module": "mqtt"}).Errorf("public topic. msg: %v", err)
		return
	}
	c.pubRaw(topic, msg)
}

func (c *ClientMQTT) pubRaw(topic string, msg []byte) {
	token := c.client.Publish(topic, c.cfgClient.Qos, false, msg)
	select {
	case <-c.ctx.Done():
	case <-token.Done():
		if token.Error() != nil {
			c.log.With(logger.Fields{"module": "mqtt"}).Errorf("error publish topic %s. %v\n", topic, token.Error())
		}
	}
}

func (c *ClientMQTT) connectHandler(_ mqtt.Client) {
	c.log.With(logger.Fields{"module": "mqtt"}).Info("client connected to server")
	c.sub(c.topic("command"))
}

func (c *ClientMQTT) connectLostHandler(_ mqtt.Client, err error) {
	c.log.With(logger.Fields{"module": "mqtt"}).Errorf("server connect lost: %v\n", err)
}

func (c *ClientMQTT) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	c.log.With(logger.Fields{"module": "mqtt"}).Debugf("received message: %v from topic: %s", msg.Payload(), msg.Topic())
	if msg.Topic() != c.topic("command") {
		return
	}
	reply, err := c.execute(msg.Payload())
	if err != nil {
		c.log.With(logger.Fields{"module": "mqtt"}).Errorf("command rejected: %v", err)
	}
	if len(reply) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopping {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.pubRaw(c.topic("settings"), reply)
	}()
}

// execute runs every command in payload and returns what they replied.
// A message must carry whole commands.
func (c *ClientMQTT) execute(payload []byte) ([]byte, error) {
	var reply bytes.Buffer
	for offset := 0; offset < len(payload); {
		n, err := c.handle(payload[offset:], &reply)
		if err != nil {
			return reply.Bytes(), fmt.Errorf("position %d: %w", offset, err)
		}
		if n == 0 {
			return reply.Bytes(), fmt.Errorf("position %d: incomplete command", offset)
		}
		offset += n
	}
	return reply.Bytes(), nil
}

func (c *ClientMQTT) sub(topic string) {
	token := c.client.Subscribe(topic, c.cfgClient.Qos, nil)
	go func() {
		select {
		case <-c.ctx.Done():
			return
		case <-token.Done():
			if token.Error() != nil {
				c.log.With(logger.Fields{"module": "mqtt"}).Errorf("topic %s subscription error. %v\n", topic, token.Error())
				return
			}
		}
		c.log.With(logger.Fields{"module": "mqtt"}).Debugf("topic %s subscribed\n", topic)
	}()
}
