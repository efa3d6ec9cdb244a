package history

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vjranagit/minigraph/pkg/types"
)

var (
	start = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	end   = time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
)

func TestRESTFetcherURL(t *testing.T) {
	f := NewRESTFetcher("http://hass.local:8123/", "", 0)

	got := f.URL(Request{EntityID: "sensor.temp", Start: start, End: end})
	want := "http://hass.local:8123/api/history/period/2024-03-01T10:00:00Z?end_time=2024-03-01T11%3A00%3A00Z&filter_entity_id=sensor.temp"
	if got != want {
		t.Errorf("Unexpected URL\n got: %s\nwant: %s", got, want)
	}

	skip := f.URL(Request{EntityID: "sensor.temp", Start: start, End: end, SkipInitialState: true})
	if !strings.HasSuffix(skip, "&skip_initial_state") {
		t.Errorf("Expected skip_initial_state flag, got %s", skip)
	}
}

func TestRESTFetcherFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/api/history/period/2024-03-01T10:00:00Z" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("filter_entity_id") != "sensor.temp" {
			t.Errorf("Unexpected entity filter %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[[
			{"entity_id":"sensor.temp","state":"20.5","last_changed":"2024-03-01T10:00:00Z"},
			{"entity_id":"sensor.temp","state":"21","last_changed":"2024-03-01T10:30:00.5Z"}
		]]`))
	}))
	defer server.Close()

	f := NewRESTFetcher(server.URL, "secret", time.Second)
	samples, err := f.Fetch(context.Background(), Request{EntityID: "sensor.temp", Start: start, End: end})
	if err != nil {
		t.Fatalf("Failed to fetch: %v", err)
	}

	if len(samples) != 2 {
		t.Fatalf("Expected 2 samples, got %d", len(samples))
	}
	if samples[1].State != "21" || !samples[1].Timestamp.Equal(start.Add(30*time.Minute+500*time.Millisecond)) {
		t.Errorf("Unexpected sample %+v", samples[1])
	}
}

func TestRESTFetcherErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("filter_entity_id") {
		case "sensor.empty":
			w.Write([]byte(`[]`))
		case "sensor.broken":
			w.Write([]byte(`{not json`))
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	f := NewRESTFetcher(server.URL, "", time.Second)
	ctx := context.Background()

	_, err := f.Fetch(ctx, Request{EntityID: "sensor.temp", Start: start, End: end})
	if !errors.Is(err, ErrUnexpectedStatus) {
		t.Errorf("Expected ErrUnexpectedStatus, got %v", err)
	}

	samples, err := f.Fetch(ctx, Request{EntityID: "sensor.empty", Start: start, End: end})
	if err != nil || samples != nil {
		t.Errorf("Expected no samples and no error, got %v, %v", samples, err)
	}

	if _, err := f.Fetch(ctx, Request{EntityID: "sensor.broken", Start: start, End: end}); err == nil {
		t.Error("Expected decode error")
	}
}

func TestInfluxQueries(t *testing.T) {
	f := &InfluxFetcher{cfg: InfluxConfig{
		Bucket:      "home",
		Measurement: "state",
		Field:       "value",
		EntityTag:   "entity_id",
	}}
	req := Request{EntityID: `sensor."odd"`, Start: start, End: end}

	q := f.RangeQuery(req)
	for _, want := range []string{
		`from(bucket: "home")`,
		`range(start: 2024-03-01T10:00:00Z, stop: 2024-03-01T11:00:00.000000001Z)`,
		`r.entity_id == "sensor.\"odd\""`,
		`r._measurement == "state"`,
		`sort(columns: ["_time"])`,
	} {
		if !strings.Contains(q, want) {
			t.Errorf("Range query missing %q:\n%s", want, q)
		}
	}

	initial := f.InitialStateQuery(req, time.Hour)
	if !strings.Contains(initial, "range(start: 2024-03-01T09:00:00Z, stop: 2024-03-01T10:00:00Z)") {
		t.Errorf("Unexpected initial state range:\n%s", initial)
	}
	if !strings.HasSuffix(initial, "|> last()") {
		t.Errorf("Expected last() selector:\n%s", initial)
	}
}

func TestFormatValue(t *testing.T) {
	testCases := []struct {
		in   any
		want string
	}{
		{21.5, "21.5"},
		{int64(-3), "-3"},
		{uint64(7), "7"},
		{true, "1"},
		{"on", "on"},
		{nil, ""},
	}

	for _, tc := range testCases {
		if got := FormatValue(tc.in); got != tc.want {
			t.Errorf("FormatValue(%v): expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestFetcherFunc(t *testing.T) {
	var got Request
	f := FetcherFunc(func(ctx context.Context, req Request) ([]types.Sample, error) {
		got = req
		return nil, nil
	})

	f.Fetch(context.Background(), Request{EntityID: "sensor.x"})
	if got.EntityID != "sensor.x" {
		t.Errorf("Expected request to be passed through, got %+v", got)
	}
}
