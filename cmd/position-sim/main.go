// Command position-sim stands in for a patrol handset: it publishes fixes
// walking around a point and answers permission requests.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"patrol-beat-tracker/internal/positioning"
)

const metersPerDegree = 111320.0

func main() {
	broker := flag.String("broker", "tcp://localhost:1883", "MQTT broker address")
	deviceID := flag.String("device-id", "handset-1", "device identifier, must match MQTT_DEVICE_ID")
	topicRoot := flag.String("topic-root", "", "topic root (default patrol/devices)")
	lat := flag.Float64("lat", 14.5995, "starting latitude")
	lng := flag.Float64("lng", 120.9842, "starting longitude")
	step := flag.Float64("step", 8, "meters walked between fixes")
	accuracy := flag.Float64("accuracy", 5, "reported horizontal accuracy in meters")
	interval := flag.Duration("interval", 2*time.Second, "interval between published fixes")
	denyBackground := flag.Bool("deny-background", false, "answer background permission requests with denied")
	flag.Parse()

	positionTopic, requestTopic, responseTopic := positioning.Topics(*topicRoot, *deviceID)

	clientID := fmt.Sprintf("%s-simulator-%d", *deviceID, time.Now().UnixNano())
	opts := mqtt.NewClientOptions().AddBroker(*broker).SetClientID(clientID).SetOrderMatters(false)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logrus.WithError(token.Error()).Fatal("❌ Failed to connect to broker")
	}
	logrus.WithFields(logrus.Fields{"broker": *broker, "client": clientID}).Info("📡 Connected")

	answer := func(c mqtt.Client, msg mqtt.Message) {
		var req positioning.PermissionRequest
		if err := json.Unmarshal(msg.Payload(), &req); err != nil {
			logrus.WithError(err).Warn("⚠️ Bad permission request")
			return
		}
		status := positioning.Granted
		if req.Tier == positioning.Background && *denyBackground {
			status = positioning.Denied
		}
		data, _ := json.Marshal(positioning.PermissionResponse{RequestID: req.RequestID, Tier: req.Tier, Status: status})
		c.Publish(responseTopic, 1, false, data)
		logrus.WithFields(logrus.Fields{"tier": req.Tier, "status": status}).Info("🔐 Answered permission request")
	}
	if token := client.Subscribe(requestTopic, 1, answer); token.Wait() && token.Error() != nil {
		logrus.WithError(token.Error()).Fatal("❌ Failed to subscribe")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	curLat, curLng := *lat, *lng
	heading := rand.Float64() * 2 * math.Pi

	publish := func() {
		fix := positioning.FixPayload{
			Latitude:  curLat,
			Longitude: curLng,
			Accuracy:  *accuracy,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		}
		data, err := json.Marshal(fix)
		if err != nil {
			logrus.WithError(err).Warn("⚠️ Failed to encode fix")
			return
		}
		token := client.Publish(positionTopic, 0, false, data)
		token.Wait()
		if err := token.Error(); err != nil {
			logrus.WithError(err).Warn("⚠️ Publish error")
			return
		}
		logrus.WithFields(logrus.Fields{"lat": curLat, "lng": curLng}).Debug("published fix")
	}

	publish()
	for {
		select {
		case <-ctx.Done():
			logrus.Info("👋 Disconnecting")
			client.Disconnect(250)
			return
		case <-ticker.C:
			// drift the heading a little so the walk stays smooth
			heading += (rand.Float64() - 0.5) * math.Pi / 4
			curLat += *step * math.Cos(heading) / metersPerDegree
			curLng += *step * math.Sin(heading) / (metersPerDegree * math.Cos(curLat*math.Pi/180))
			publish()
		}
	}
}
