package events

import (
	"context"
	"log"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
)

// InfluxStore mirrors the event stream to InfluxDB for dashboards. Writes
// are asynchronous; write errors are logged, not surfaced, so a down
// telemetry server never buffers the night's audit trail.
type InfluxStore struct {
	client   influxdb2.Client
	writeAPI api.WriteApi
}

func NewInfluxStore(url, token, org, bucket string) *InfluxStore {
	client := influxdb2.NewClient(url, token)
	writeAPI := client.WriteApi(org, bucket)
	errorsCh := writeAPI.Errors()
	go func() {
		for err := range errorsCh {
			log.Printf("events: influx write error: %v", err)
		}
	}()
	return &InfluxStore{client: client, writeAPI: writeAPI}
}

func (s *InfluxStore) Append(ctx context.Context, ev Event) error {
	p := influxdb2.NewPoint("obsd.events",
		map[string]string{
			"to":    ev.To,
			"cause": ev.Cause,
		},
		map[string]interface{}{
			"from":   ev.From,
			"detail": ev.Detail,
		},
		ev.Timestamp,
	)
	s.writeAPI.WritePoint(p)
	return nil
}

func (s *InfluxStore) Close() {
	s.writeAPI.Flush()
	s.writeAPI.Close()
	s.client.Close()
}
