package client

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"eventhub-proxy/internal/config"
	"eventhub-proxy/internal/metrics"
)

func newTestClient(timeoutSeconds int, m *metrics.Metrics) *UpstreamClient {
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:  timeoutSeconds,
			IdleConnections: 10,
		},
	}
	return NewUpstreamClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), m)
}

// failureCount returns eventhub_proxy_upstream_failures_total{method,reason}.
func failureCount(t *testing.T, m *metrics.Metrics, method string, reason Failure) float64 {
	t.Helper()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != "eventhub_proxy_upstream_failures_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["method"] == method && labels["reason"] == string(reason) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestSend_RelaysResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/City/CityGetAll" {
			t.Errorf("upstream path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"isSuccess":true}`))
	}))
	defer srv.Close()

	c := newTestClient(10, nil)
	resp, err := c.Send(context.Background(), Outbound{
		Method: http.MethodGet,
		URL:    srv.URL + "/api/City/CityGetAll",
		Header: http.Header{},
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"isSuccess":true}` {
		t.Errorf("body = %q", body)
	}
}

func TestSend_BodyFraming(t *testing.T) {
	payload := `{"name":"Hall A"}`

	tests := []struct {
		name          string
		body          io.Reader
		contentLength int64
		wantLength    int64
		wantBody      string
	}{
		{"known length", strings.NewReader(payload), int64(len(payload)), int64(len(payload)), payload},
		{"unknown length is chunked", strings.NewReader(payload), -1, -1, payload},
		{"zero length sends no body", strings.NewReader("ignored"), 0, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.ContentLength != tt.wantLength {
					t.Errorf("upstream ContentLength = %d, want %d", r.ContentLength, tt.wantLength)
				}
				b, _ := io.ReadAll(r.Body)
				if string(b) != tt.wantBody {
					t.Errorf("upstream body = %q, want %q", b, tt.wantBody)
				}
				w.WriteHeader(http.StatusCreated)
			}))
			defer srv.Close()

			resp, err := newTestClient(10, nil).Send(context.Background(), Outbound{
				Method:        http.MethodPost,
				URL:           srv.URL + "/api/Venue",
				Header:        http.Header{"Content-Type": {"application/json"}},
				Body:          tt.body,
				ContentLength: tt.contentLength,
			})
			if err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			_ = resp.Body.Close()

			if resp.StatusCode != http.StatusCreated {
				t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusCreated)
			}
		})
	}
}

func TestSend_NoImplicitCompression(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ae := r.Header.Get("Accept-Encoding"); ae != "" {
			t.Errorf("upstream Accept-Encoding = %q, want none", ae)
		}
		_, _ = w.Write([]byte("plain"))
	}))
	defer srv.Close()

	resp, err := newTestClient(10, nil).Send(context.Background(), Outbound{
		Method: http.MethodGet,
		URL:    srv.URL + "/api/Venue",
		Header: http.Header{},
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	_ = resp.Body.Close()
}

func TestSend_CompressedBodyUntouched(t *testing.T) {
	var compressed bytes.Buffer
	zw := gzip.NewWriter(&compressed)
	_, _ = zw.Write([]byte(`[{"id":1,"name":"Hall A"}]`))
	_ = zw.Close()
	raw := compressed.Bytes()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Length", strconv.Itoa(len(raw)))
		_, _ = w.Write(raw)
	}))
	defer srv.Close()

	resp, err := newTestClient(10, nil).Send(context.Background(), Outbound{
		Method: http.MethodGet,
		URL:    srv.URL + "/api/Venue/VenueGetAll",
		Header: http.Header{"Accept-Encoding": {"gzip"}},
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if ce := resp.Header.Get("Content-Encoding"); ce != "gzip" {
		t.Errorf("Content-Encoding = %q, want gzip", ce)
	}
	if cl := resp.Header.Get("Content-Length"); cl != strconv.Itoa(len(raw)) {
		t.Errorf("Content-Length = %q, want %d", cl, len(raw))
	}
	got, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(got, raw) {
		t.Error("body was altered; want the compressed bytes as sent")
	}
}

func TestSend_UnreachableCountsConnectFailure(t *testing.T) {
	m := metrics.New()
	c := newTestClient(1, m)

	_, err := c.Send(context.Background(), Outbound{
		Method: http.MethodGet,
		URL:    "http://127.0.0.1:1/api/City",
		Header: http.Header{},
	})
	if err == nil {
		t.Fatal("Send() expected error for unreachable host, got nil")
	}
	if got := Classify(err); got != FailureConnect {
		t.Errorf("Classify() = %q, want %q", got, FailureConnect)
	}
	if v := failureCount(t, m, "GET", FailureConnect); v != 1 {
		t.Errorf("failures_total{GET,connect} = %v, want 1", v)
	}
}

func TestSend_RequestBodyFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	errTooLarge := errors.New("body over limit")
	m := metrics.New()

	_, err := newTestClient(10, m).Send(context.Background(), Outbound{
		Method:        http.MethodPost,
		URL:           srv.URL + "/api/Venue/upload",
		Header:        http.Header{"Content-Type": {"multipart/form-data; boundary=x"}},
		Body:          io.MultiReader(strings.NewReader("--x\r\n"), iotest.ErrReader(errTooLarge)),
		ContentLength: -1,
	})
	if err == nil {
		t.Fatal("Send() expected error when the body fails, got nil")
	}

	var bodyErr *RequestBodyError
	if !errors.As(err, &bodyErr) {
		t.Fatalf("error %v does not wrap *RequestBodyError", err)
	}
	if !errors.Is(err, errTooLarge) {
		t.Errorf("error %v does not wrap the reader's error", err)
	}
	if v := failureCount(t, m, "POST", FailureRequestBody); v != 1 {
		t.Errorf("failures_total{POST,request_body} = %v, want 1", v)
	}
}

func TestSend_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	m := metrics.New()
	start := time.Now()
	_, err := newTestClient(1, m).Send(context.Background(), Outbound{
		Method: http.MethodGet,
		URL:    srv.URL + "/api/slow",
		Header: http.Header{},
	})
	if err == nil {
		t.Fatal("Send() expected timeout error, got nil")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Send() took %v, want it bounded by the 1s timeout", elapsed)
	}
	if got := Classify(err); got != FailureTimeout {
		t.Errorf("Classify() = %q, want %q", got, FailureTimeout)
	}
	if v := failureCount(t, m, "GET", FailureTimeout); v != 1 {
		t.Errorf("failures_total{GET,timeout} = %v, want 1", v)
	}
}

func TestSend_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(30, nil).Send(ctx, Outbound{
		Method: http.MethodGet,
		URL:    srv.URL + "/api/slow",
		Header: http.Header{},
	})
	if err == nil {
		t.Fatal("Send() expected error for canceled context, got nil")
	}
	if got := Classify(err); got != FailureCanceled {
		t.Errorf("Classify() = %q, want %q", got, FailureCanceled)
	}
}
