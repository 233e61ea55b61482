package drivers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestInfluxSinkSetup(t *testing.T) {
	is := &InfluxSink{}
	if err := is.Setup(); err == nil {
		t.Error("expected error for empty host and bucket")
	}

	err := is.Write(context.Background(), InfluxRecord{Sensor: "any"})
	if err == nil {
		t.Error("expected error writing to a sink that is not set up")
	}
}

func TestInfluxSinkWrite(t *testing.T) {
	var body, path, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	is := &InfluxSink{Host: srv.URL, Organization: "home", Bucket: "climate", Token: "secret"}
	if err := is.Setup(); err != nil {
		t.Fatal(err)
	}
	defer is.Close()

	if is.Measurement != defaultInfluxMeasurement {
		t.Errorf("got measurement %s", is.Measurement)
	}

	err := is.Write(context.Background(), InfluxRecord{
		Sensor:      "attic",
		Variant:     "DHT11",
		Tags:        map[string]string{"room": "attic"},
		Humidity:    55,
		Temperature: 26,
		At:          time.Unix(1700000000, 0),
	})
	if err != nil {
		t.Fatalf("Write returned err: %v", err)
	}

	if path != "/api/v2/write" {
		t.Errorf("got path %s", path)
	}
	if auth != "Token secret" {
		t.Errorf("got Authorization %q", auth)
	}
	for _, part := range []string{"climate,", "sensor=attic", "variant=DHT11", "room=attic", "humidity=55", "temperature=26"} {
		if !strings.Contains(body, part) {
			t.Errorf("line protocol %q misses %q", body, part)
		}
	}
}

func TestInfluxSinkWriteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"invalid","message":"bad point"}`))
	}))
	defer srv.Close()

	is := &InfluxSink{Host: srv.URL, Bucket: "climate"}
	is.Setup()
	defer is.Close()

	if err := is.Write(context.Background(), InfluxRecord{Sensor: "attic"}); err == nil {
		t.Error("expected error from a failing server")
	}
}
