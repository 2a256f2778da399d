package positioning

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"patrol-beat-tracker/internal/models"
)

const (
	// DefaultInterval is the reporting cadence when none is configured
	DefaultInterval = 5 * time.Second
	// DefaultMinDistance is the displacement trigger in meters when none is configured
	DefaultMinDistance = 5.0

	maxCachedFixAge = 30 * time.Second
	// maxFixSkew bounds how far ahead of the local clock a device timestamp may be
	maxFixSkew      = 2 * time.Minute
	subscriberQueue = 16
)

// MQTTConfig configures the MQTT position source
type MQTTConfig struct {
	Broker            string
	DeviceID          string
	Username          string
	Password          string
	PermissionTimeout time.Duration
	// TopicRoot defaults to "patrol/devices"
	TopicRoot string
}

// FixPayload is the JSON body published on the position topic
type FixPayload struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  float64  `json:"accuracy"`
	Speed     *float64 `json:"speed,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	Timestamp string   `json:"timestamp"`
}

// PermissionRequest is published when the engine needs a permission tier granted
type PermissionRequest struct {
	RequestID string `json:"request_id"`
	Tier      Tier   `json:"tier"`
}

// PermissionResponse is the device's answer to a PermissionRequest
type PermissionResponse struct {
	RequestID string     `json:"request_id"`
	Tier      Tier       `json:"tier"`
	Status    Permission `json:"status"`
}

// Topics returns the position, permission request and permission response topics for a device
func Topics(root, deviceID string) (position, permRequest, permResponse string) {
	if root == "" {
		root = "patrol/devices"
	}
	base := fmt.Sprintf("%s/%s/", root, deviceID)
	return base + "position", base + "permissions/request", base + "permissions/response"
}

// MQTTSource is a Source fed by a device publishing fixes over MQTT
type MQTTSource struct {
	cfg    MQTTConfig
	client mqtt.Client

	positionTopic string
	requestTopic  string
	responseTopic string

	mu       sync.Mutex
	closed   bool
	latest   *models.Position
	waiters  []chan models.Position
	subs     map[SubscriptionID]*subscription
	requests map[string]chan Permission
}

type subscription struct {
	fixes chan models.Position
	stop  chan struct{}
}

// NewMQTTSource connects to the broker and listens for the device's fixes
func NewMQTTSource(cfg MQTTConfig) (*MQTTSource, error) {
	if cfg.Broker == "" || cfg.DeviceID == "" {
		return nil, fmt.Errorf("mqtt broker and device id are required")
	}
	if cfg.PermissionTimeout <= 0 {
		cfg.PermissionTimeout = 30 * time.Second
	}

	s := &MQTTSource{
		cfg:      cfg,
		subs:     make(map[SubscriptionID]*subscription),
		requests: make(map[string]chan Permission),
	}
	s.positionTopic, s.requestTopic, s.responseTopic = Topics(cfg.TopicRoot, cfg.DeviceID)

	clientID := fmt.Sprintf("patrol-client-%s-%s", cfg.DeviceID, uuid.NewString()[:8])
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logrus.WithError(err).Warn("⚠️ MQTT connection lost")
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}

	s.client = mqtt.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", token.Error())
	}
	logrus.WithFields(logrus.Fields{"broker": cfg.Broker, "client_id": clientID}).Info("📡 Connected to MQTT broker")
	return s, nil
}

// onConnect (re)subscribes after every connect since sessions are clean
func (s *MQTTSource) onConnect(c mqtt.Client) {
	if token := c.Subscribe(s.positionTopic, 0, s.handleFix); token.Wait() && token.Error() != nil {
		logrus.WithError(token.Error()).WithField("topic", s.positionTopic).Error("❌ MQTT subscribe failed")
	}
	if token := c.Subscribe(s.responseTopic, 1, s.handlePermission); token.Wait() && token.Error() != nil {
		logrus.WithError(token.Error()).WithField("topic", s.responseTopic).Error("❌ MQTT subscribe failed")
	}
}

// Close stops all subscriptions and disconnects
func (s *MQTTSource) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, sub := range s.subs {
		close(sub.stop)
		delete(s.subs, id)
	}
	s.mu.Unlock()

	s.client.Disconnect(250)
}

func (s *MQTTSource) handleFix(_ mqtt.Client, msg mqtt.Message) {
	p, err := DecodeFix(msg.Payload())
	if err != nil {
		logrus.WithError(err).WithField("topic", msg.Topic()).Warn("⚠️ Dropping malformed fix")
		return
	}
	s.deliver(p)
}

func (s *MQTTSource) deliver(p models.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.latest == nil || p.Timestamp.After(s.latest.Timestamp) {
		s.latest = &p
	}
	for _, w := range s.waiters {
		w <- p
	}
	s.waiters = nil

	for _, sub := range s.subs {
		select {
		case sub.fixes <- p:
		default:
			// subscriber is behind; the next fix supersedes this one
		}
	}
}

// DecodeFix parses and validates a fix payload
func DecodeFix(data []byte) (models.Position, error) {
	var payload FixPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return models.Position{}, fmt.Errorf("decode fix: %w", err)
	}
	if payload.Latitude < -90 || payload.Latitude > 90 {
		return models.Position{}, fmt.Errorf("latitude out of range: %v", payload.Latitude)
	}
	if payload.Longitude < -180 || payload.Longitude > 180 {
		return models.Position{}, fmt.Errorf("longitude out of range: %v", payload.Longitude)
	}
	if payload.Accuracy < 0 {
		return models.Position{}, fmt.Errorf("negative accuracy: %v", payload.Accuracy)
	}

	ts := time.Now().UTC()
	if payload.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339Nano, payload.Timestamp)
		if err != nil {
			return models.Position{}, fmt.Errorf("decode timestamp: %w", err)
		}
		ts = parsed.UTC()
		if ts.After(time.Now().Add(maxFixSkew)) {
			return models.Position{}, fmt.Errorf("timestamp %s is in the future", payload.Timestamp)
		}
	}

	return models.Position{
		Latitude:  payload.Latitude,
		Longitude: payload.Longitude,
		Accuracy:  payload.Accuracy,
		Speed:     payload.Speed,
		Heading:   payload.Heading,
		Timestamp: ts,
	}, nil
}

func (s *MQTTSource) handlePermission(_ mqtt.Client, msg mqtt.Message) {
	var resp PermissionResponse
	if err := json.Unmarshal(msg.Payload(), &resp); err != nil {
		logrus.WithError(err).Warn("⚠️ Dropping malformed permission response")
		return
	}

	s.mu.Lock()
	ch, ok := s.requests[resp.RequestID]
	delete(s.requests, resp.RequestID)
	s.mu.Unlock()

	if ok {
		ch <- resp.Status
	}
}

func (s *MQTTSource) RequestForegroundPermission(ctx context.Context) (Permission, error) {
	return s.requestPermission(ctx, Foreground)
}

func (s *MQTTSource) RequestBackgroundPermission(ctx context.Context) (Permission, error) {
	return s.requestPermission(ctx, Background)
}

func (s *MQTTSource) requestPermission(ctx context.Context, tier Tier) (Permission, error) {
	req := PermissionRequest{RequestID: uuid.NewString(), Tier: tier}
	data, err := json.Marshal(req)
	if err != nil {
		return Denied, fmt.Errorf("encode permission request: %w", err)
	}

	reply := make(chan Permission, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Denied, ErrClosed
	}
	s.requests[req.RequestID] = reply
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.requests, req.RequestID)
		s.mu.Unlock()
	}()

	token := s.client.Publish(s.requestTopic, 1, false, data)
	token.Wait()
	if err := token.Error(); err != nil {
		return Denied, fmt.Errorf("publish permission request: %w", err)
	}

	timer := time.NewTimer(s.cfg.PermissionTimeout)
	defer timer.Stop()

	select {
	case status := <-reply:
		return status, nil
	case <-timer.C:
		return Denied, fmt.Errorf("%s permission: %w", tier, ErrTimeout)
	case <-ctx.Done():
		return Denied, ctx.Err()
	}
}

// GetOnce returns the cached fix when fresh, otherwise waits for the next one
func (s *MQTTSource) GetOnce(ctx context.Context) (models.Position, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.Position{}, ErrClosed
	}
	if s.latest != nil && time.Since(s.latest.Timestamp) < maxCachedFixAge {
		p := *s.latest
		s.mu.Unlock()
		return p, nil
	}
	w := make(chan models.Position, 1)
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case p := <-w:
		return p, nil
	case <-ctx.Done():
		s.dropWaiter(w)
		return models.Position{}, fmt.Errorf("waiting for fix: %w", ctx.Err())
	}
}

func (s *MQTTSource) dropWaiter(w chan models.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.waiters {
		if existing == w {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

func (s *MQTTSource) Subscribe(interval time.Duration, minDistance float64, onSample func(models.Position)) (SubscriptionID, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	sub := &subscription{
		fixes: make(chan models.Position, subscriberQueue),
		stop:  make(chan struct{}),
	}
	id := SubscriptionID(uuid.NewString())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	s.subs[id] = sub
	s.mu.Unlock()

	go runFilter(NewFilter(interval, minDistance), sub.fixes, sub.stop, onSample)

	logrus.WithFields(logrus.Fields{
		"subscription": id,
		"interval":     interval,
		"min_distance": minDistance,
	}).Debug("position subscription started")
	return id, nil
}

func (s *MQTTSource) Unsubscribe(id SubscriptionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok {
		return ErrUnknownSubscription
	}
	close(sub.stop)
	delete(s.subs, id)
	return nil
}

// runFilter drives a Filter from a fix channel and its interval ticker until stop closes
func runFilter(f *Filter, fixes <-chan models.Position, stop <-chan struct{}, onSample func(models.Position)) {
	ticker := time.NewTicker(f.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case p := <-fixes:
			if f.Observe(p) {
				onSample(p)
				ticker.Reset(f.Interval())
			}
		case <-ticker.C:
			if p, ok := f.Tick(); ok {
				onSample(p)
			}
		}
	}
}
