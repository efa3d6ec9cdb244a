package history

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/vjranagit/minigraph/pkg/types"
)

const defaultPingTimeout = 5 * time.Second

// InfluxConfig selects where entity history lives in InfluxDB
type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
	Field       string
	// EntityTag is the tag holding the entity id
	EntityTag string
}

// InfluxFetcher reads entity history with Flux queries
type InfluxFetcher struct {
	client influxdb2.Client
	query  api.QueryAPI
	cfg    InfluxConfig
}

// NewInfluxFetcher connects to InfluxDB and verifies the server is healthy
func NewInfluxFetcher(ctx context.Context, cfg InfluxConfig) (*InfluxFetcher, error) {
	if cfg.Field == "" {
		cfg.Field = "value"
	}
	if cfg.EntityTag == "" {
		cfg.EntityTag = "entity_id"
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb ping failed: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("influxdb server not healthy")
	}

	return &InfluxFetcher{
		client: client,
		query:  client.QueryAPI(cfg.Org),
		cfg:    cfg,
	}, nil
}

// Close releases the client
func (f *InfluxFetcher) Close() {
	f.client.Close()
}

// fluxString quotes s as a Flux string literal
func fluxString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return `"` + r.Replace(s) + `"`
}

func fluxTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// filter is the shared Flux filter selecting one entity's field
func (f *InfluxFetcher) filter(entityID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `r._field == %s and r.%s == %s`, fluxString(f.cfg.Field), f.cfg.EntityTag, fluxString(entityID))
	if f.cfg.Measurement != "" {
		fmt.Fprintf(&b, ` and r._measurement == %s`, fluxString(f.cfg.Measurement))
	}
	return b.String()
}

// RangeQuery builds the Flux query for samples in [start, end]
func (f *InfluxFetcher) RangeQuery(req Request) string {
	return fmt.Sprintf(`from(bucket: %s)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => %s)
  |> keep(columns: ["_time", "_value"])
  |> sort(columns: ["_time"])`,
		fluxString(f.cfg.Bucket), fluxTime(req.Start), fluxTime(req.End.Add(time.Nanosecond)), f.filter(req.EntityID))
}

// InitialStateQuery builds the Flux query for the last value before start
func (f *InfluxFetcher) InitialStateQuery(req Request, lookback time.Duration) string {
	return fmt.Sprintf(`from(bucket: %s)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => %s)
  |> last()`,
		fluxString(f.cfg.Bucket), fluxTime(req.Start.Add(-lookback)), fluxTime(req.Start), f.filter(req.EntityID))
}

// Fetch implements Fetcher
func (f *InfluxFetcher) Fetch(ctx context.Context, req Request) ([]types.Sample, error) {
	var samples []types.Sample

	if !req.SkipInitialState {
		initial, err := f.run(ctx, f.InitialStateQuery(req, 30*24*time.Hour))
		if err != nil {
			return nil, fmt.Errorf("querying initial state of %s: %w", req.EntityID, err)
		}
		if len(initial) > 0 {
			last := initial[len(initial)-1]
			last.Timestamp = req.Start
			samples = append(samples, last)
		}
	}

	ranged, err := f.run(ctx, f.RangeQuery(req))
	if err != nil {
		return nil, fmt.Errorf("querying history of %s: %w", req.EntityID, err)
	}
	return append(samples, ranged...), nil
}

func (f *InfluxFetcher) run(ctx context.Context, flux string) ([]types.Sample, error) {
	result, err := f.query.Query(ctx, flux)
	if err != nil {
		return nil, err
	}
	defer result.Close()

	var samples []types.Sample
	for result.Next() {
		rec := result.Record()
		samples = append(samples, types.Sample{
			Timestamp: rec.Time(),
			State:     FormatValue(rec.Value()),
		})
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

// FormatValue renders a Flux value as a state string
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case bool:
		if val {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(val)
	}
}
