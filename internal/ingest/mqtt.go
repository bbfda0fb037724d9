package ingest

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"machguard/internal/config"
	"machguard/internal/model"
	"machguard/internal/normalize"
)

func StartMQTT(ctx context.Context, cfg *config.Manager, out chan<- model.Reading, logger *slog.Logger) {
	current := cfg.Get().Ingest.MQTT
	if !current.Enabled {
		if logger != nil {
			logger.Info("mqtt ingest disabled")
		}
		return
	}
	broker, err := url.Parse(current.Broker)
	if err != nil {
		if logger != nil {
			logger.Error("mqtt broker url invalid", "broker", current.Broker, "err", err)
		}
		return
	}
	if logger != nil {
		logger.Info("mqtt ingest enabled", "broker", current.Broker, "topic", current.Topic)
	}

	parser := NewParser()
	clientCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{broker},
		KeepAlive:                     30,
		CleanStartOnInitialConnection: false,
		SessionExpiryInterval:         60,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			if logger != nil {
				logger.Info("mqtt connected", "topic", current.Topic, "qos", current.QoS)
			}
			if _, err := cm.Subscribe(ctx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{{Topic: current.Topic, QoS: current.QoS}},
			}); err != nil && logger != nil {
				logger.Warn("mqtt subscribe error", "err", err)
			}
		},
		OnConnectError: func(err error) {
			if logger != nil {
				logger.Warn("mqtt connect error", "err", err)
			}
		},
		ClientConfig: paho.ClientConfig{
			ClientID: current.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					handleMQTTPublish(ctx, pr.Packet, cfg, parser, out, logger)
					return true, nil
				},
			},
			OnClientError: func(err error) {
				if logger != nil {
					logger.Warn("mqtt client error", "err", err)
				}
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				if logger != nil {
					logger.Warn("mqtt server disconnect", "reason_code", d.ReasonCode)
				}
			},
		},
	}
	if current.Username != "" {
		clientCfg.ConnectUsername = current.Username
		clientCfg.ConnectPassword = []byte(current.Password)
	}

	if _, err := autopaho.NewConnection(ctx, clientCfg); err != nil {
		if logger != nil {
			logger.Error("mqtt connection manager error", "err", err)
		}
	}
}

func handleMQTTPublish(ctx context.Context, pub *paho.Publish, cfg *config.Manager, parser *Parser, out chan<- model.Reading, logger *slog.Logger) {
	trimmed := strings.TrimSpace(string(pub.Payload))
	var readings []normalize.ReadingFields
	if _, err := strconv.ParseFloat(trimmed, 64); err == nil {
		readings = []normalize.ReadingFields{{Value: trimmed}}
	} else {
		parsed, err := parser.ParseLine(trimmed)
		if err != nil || len(parsed) == 0 {
			return
		}
		readings = parsed
	}

	machine, sensor := topicFields(pub.Topic)
	conf := cfg.Get()
	for _, fields := range readings {
		if fields.MachineID == "" {
			fields.MachineID = machine
		}
		if fields.SensorID == "" {
			fields.SensorID = sensor
		}
		rd, err := normalize.Normalize(fields, conf)
		if err != nil {
			if logger != nil {
				logger.Warn("mqtt normalize error", "topic", pub.Topic, "err", err)
			}
			continue
		}
		rd.Source = "mqtt"
		SendNonBlocking(ctx, out, rd, logger)
	}
}

func topicFields(topic string) (machine, sensor string) {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	if len(parts) >= 2 {
		return parts[len(parts)-2], parts[len(parts)-1]
	}
	return "", ""
}
