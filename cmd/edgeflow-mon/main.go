package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"strings"

	"github.com/edgeflow/edgeflow.go/pkg/telemetry"
)

var (
	mqttURL = "mqtt://localhost:1883/edgeflow/"
)

func init() {
	if val := os.Getenv("EDGEFLOW_MQTT_URL"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	q, err := telemetry.NewQueueFromURL(mqttURL)
	if err != nil {
		log.Fatalln(err)
	}
	if tok := q.Connect(); tok.Wait() && tok.Error() != nil {
		log.Fatalln(tok.Error())
	}

	q.Sub("#", telemetry.Handler(func(topic string, payload []byte) {
		switch {
		case strings.HasSuffix(topic, "/meta"):
			if len(payload) == 0 {
				log.Printf("%s: (cleared)", topic)
				return
			}
			log.Printf("%s: %s", topic, string(payload))
		case strings.HasSuffix(topic, "/stats"):
			var ev telemetry.StatsEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				log.Printf("%s: bad event: %v", topic, err)
				return
			}
			log.Printf("%s: #%d %s %s %.2fms", topic, ev.Seq, ev.Marker, ev.Outcome, ev.Millis)
		default:
			log.Printf("%s: %d bytes", topic, len(payload))
		}
	}))
	<-(chan struct{})(nil)
}
