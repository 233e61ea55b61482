package drivers

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/pkg/errors"
)

const influxSinkName string = "influx"
const defaultInfluxMeasurement = "climate"
const influxWriteTimeout = 5 * time.Second

// InfluxSink writes readings to an InfluxDB v2 bucket, one point per valid
// reading.
type InfluxSink struct {
	Host         string
	Organization string
	Bucket       string
	Measurement  string
	Token        string

	client   influxdb2.Client
	writeApi api.WriteAPIBlocking
	ready    bool
}

// InfluxRecord is one reading as the sink stores it.
type InfluxRecord struct {
	Sensor      string
	Variant     string
	Tags        map[string]string
	Humidity    float64
	Temperature float64
	At          time.Time
}

func (is *InfluxSink) Setup() error {
	if len(is.Host) == 0 || len(is.Bucket) == 0 {
		return errors.New("influx sink needs Host and Bucket")
	}
	if len(is.Measurement) == 0 {
		is.Measurement = defaultInfluxMeasurement
	}

	is.client = influxdb2.NewClient(is.Host, is.Token)
	is.writeApi = is.client.WriteAPIBlocking(is.Organization, is.Bucket)
	is.ready = true
	return nil
}

func (is *InfluxSink) Name() string {
	return influxSinkName
}

func (is *InfluxSink) IsReady() bool {
	return is.ready
}

func (is *InfluxSink) Close() error {
	if is.client != nil {
		is.client.Close()
	}
	is.ready = false
	return nil
}

func (is *InfluxSink) Write(ctx context.Context, records ...InfluxRecord) error {
	if !is.ready {
		return errors.New("influx sink not set up")
	}
	if len(records) == 0 {
		return nil
	}

	points := make([]*write.Point, 0, len(records))
	for _, rec := range records {
		points = append(points, is.recordPoint(rec))
	}

	ctx, cancel := context.WithTimeout(ctx, influxWriteTimeout)
	defer cancel()

	err := is.writeApi.WritePoint(ctx, points...)
	if err != nil {
		return errors.Wrapf(err, "failed to write %d points to bucket %s", len(points), is.Bucket)
	}
	return nil
}

func (is *InfluxSink) recordPoint(rec InfluxRecord) *write.Point {
	tags := map[string]string{}
	for key, val := range rec.Tags {
		tags[key] = val
	}
	tags["sensor"] = rec.Sensor
	tags["variant"] = rec.Variant

	fields := map[string]interface{}{
		"humidity":    rec.Humidity,
		"temperature": rec.Temperature,
	}

	return influxdb2.NewPoint(is.Measurement, tags, fields, rec.At)
}
