package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/ordersync/internal/config"
	"go.uber.org/zap/zaptest"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"
)

func TestRemoteWritePusherSendsSnappyProtobuf(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newSyncMetrics(registry, Config{ServiceName: "ordersync", Environment: "test"})
	m.IncInvoice(JobAggregatedChunk, OutcomeSuccessful)
	m.ObserveJobDuration(JobAggregatedChunk, 2*time.Second)

	var got prompb.WriteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		body, _ := io.ReadAll(r.Body)
		raw, err := snappy.Decode(nil, body)
		if err != nil {
			t.Errorf("snappy decode: %v", err)
		}
		if err := proto.Unmarshal(raw, protoadapt.MessageV2Of(&got)); err != nil {
			t.Errorf("unmarshal: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewRemoteWritePusher(srv.URL, "secret")
	p.now = func() time.Time { return time.UnixMilli(1700000000000) }
	if err := p.Push(context.Background(), registry); err != nil {
		t.Fatalf("push: %v", err)
	}

	names := map[string]bool{}
	for _, ts := range got.Timeseries {
		for _, label := range ts.Labels {
			if label.Name == "__name__" {
				names[label.Value] = true
			}
		}
		if ts.Samples[0].Timestamp != 1700000000000 {
			t.Fatalf("unexpected timestamp %d", ts.Samples[0].Timestamp)
		}
	}
	for _, want := range []string{
		"ordersync_invoices_processed_total",
		"ordersync_job_duration_seconds_sum",
		"ordersync_job_duration_seconds_count",
	} {
		if !names[want] {
			t.Fatalf("expected series %s in %v", want, names)
		}
	}
}

func TestRemoteWritePusherReportsHTTPError(t *testing.T) {
	registry := prometheus.NewRegistry()
	newSyncMetrics(registry, Config{}).IncSequenceLockBusy()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewRemoteWritePusher(srv.URL, "").Push(context.Background(), registry); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestNewPusherDisabledCases(t *testing.T) {
	log := zaptest.NewLogger(t)
	cases := []config.MetricsPushConfig{
		{Enabled: false},
		{Enabled: true, Exporter: exporterRemoteWrite},
		{Enabled: true, Exporter: "statsd", Endpoint: "http://localhost"},
		{Enabled: true, Exporter: exporterRemoteWrite, Endpoint: "not a url"},
	}
	for _, pc := range cases {
		if p := NewPusher(config.Config{MetricsPush: pc}, log); p != nil {
			t.Fatalf("expected nil pusher for %+v", pc)
		}
	}

	p := NewPusher(config.Config{AppName: "ordersync", MetricsPush: config.MetricsPushConfig{
		Enabled: true, Exporter: exporterPushgateway, Endpoint: "http://pushgateway:9091",
	}}, log)
	if _, ok := p.(*PushgatewayPusher); !ok {
		t.Fatalf("expected pushgateway pusher, got %T", p)
	}
}
