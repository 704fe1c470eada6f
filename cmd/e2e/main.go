package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"espdata/internal/client"
)

var verbose bool

// scenario 封装一次端到端巡检过程中共享的资源。
type scenario struct {
	api   *client.Client
	raw   *resty.Client
	galon string
}

func banner(title string) {
	log.Printf("\n=== %s ===", title)
}

func step(format string, args ...interface{}) {
	log.Printf(" • "+format, args...)
}

func main() {
	var (
		base      string
		deviceKey string
		prefix    string
		timeout   time.Duration
	)

	flag.StringVar(&base, "base", "http://127.0.0.1:8080", "Base URL of the ESP data service")
	flag.StringVar(&deviceKey, "device-key", "", "Device key if the server requires one")
	flag.StringVar(&prefix, "galon", "e2e", "Galon prefix used for test readings")
	flag.DurationVar(&timeout, "timeout", 20*time.Second, "HTTP timeout for requests")
	flag.BoolVar(&verbose, "v", true, "Verbose logging")
	flag.Parse()

	api, err := client.New(client.Options{BaseURL: base, DeviceKey: deviceKey, Timeout: timeout, Retries: 2})
	if err != nil {
		log.Fatalf("client: %v", err)
	}
	raw := resty.New().SetBaseURL(strings.TrimRight(base, "/")).SetTimeout(timeout)
	if deviceKey != "" {
		raw.SetHeader("X-Device-Key", deviceKey)
	}

	sc := &scenario{api: api, raw: raw, galon: fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())}
	sc.run(context.Background())
}

func (s *scenario) run(ctx context.Context) {
	must := func(err error, msg string) {
		if err != nil {
			log.Fatalf("%s: %v", msg, err)
		}
	}

	log.Printf("E2E start -> %s (galon %s)", s.raw.BaseURL, s.galon)

	banner("Health Checks")
	step("Probe /healthz")
	must(s.expectStatus(ctx, "GET", "/healthz", nil, 200, ""), "healthz")
	step("Probe /readyz (mysql ping + session time zone)")
	must(s.api.Ready(ctx), "readyz")
	step("Probe /metrics")
	_, err := s.api.Metrics(ctx)
	must(err, "metrics")

	banner("Device Ingest")
	started := time.Now()
	values := []float64{12.5, 13, 11.75}
	for _, v := range values {
		step("POST /data galon=%s value=%g", s.galon, v)
		must(s.api.Send(ctx, s.galon, v), "ingest")
	}
	step("Integer value is accepted")
	must(s.expectStatus(ctx, "POST", "/data", map[string]interface{}{"galon": s.galon, "value": 14}, 200, "Data received and stored successfully!"), "ingest int")
	values = append(values, 14)

	banner("Ingest Validation")
	step("Missing value -> 400 Invalid data format")
	must(s.expectStatus(ctx, "POST", "/data", map[string]interface{}{"galon": s.galon}, 400, "Invalid data format"), "missing value")
	step("Null galon -> 400 Invalid data format")
	must(s.expectStatus(ctx, "POST", "/data", map[string]interface{}{"galon": nil, "value": 1}, 400, "Invalid data format"), "null galon")
	step("String value -> 400 Invalid data types")
	must(s.expectStatus(ctx, "POST", "/data", map[string]interface{}{"galon": s.galon, "value": "1"}, 400, "Invalid data types"), "string value")
	step("Numeric galon -> 400 Invalid data types")
	must(s.expectStatus(ctx, "POST", "/data", map[string]interface{}{"galon": 7, "value": 1}, 400, "Invalid data types"), "numeric galon")
	step("Malformed JSON -> 400 Invalid JSON payload")
	must(s.expectStatus(ctx, "POST", "/data", `{"galon":`, 400, "Invalid JSON payload"), "malformed json")

	banner("Queries")
	step("Latest reading of %s", s.galon)
	latest, err := s.api.Latest(ctx, s.galon)
	must(err, "latest")
	if latest.Value != values[len(values)-1] {
		log.Fatalf("latest value = %g, want %g", latest.Value, values[len(values)-1])
	}
	if _, off := latest.Timestamp.Zone(); off != 7*3600 {
		log.Fatalf("latest timestamp %s is not +07:00", latest.Timestamp.Format(time.RFC3339))
	}
	if d := latest.Timestamp.Sub(started); d < -5*time.Second || d > 5*time.Minute {
		log.Fatalf("latest timestamp %s too far from client clock %s", latest.Timestamp, started)
	}
	step("List readings oldest first")
	recs, err := s.api.List(ctx, client.ListQuery{Galon: s.galon, Asc: true})
	must(err, "list")
	if len(recs) != len(values) {
		log.Fatalf("list returned %d rows, want %d", len(recs), len(values))
	}
	for i, r := range recs {
		if r.Value != values[i] {
			log.Fatalf("row %d value = %g, want %g", i, r.Value, values[i])
		}
	}
	step("Stats for %s", s.galon)
	st, err := s.api.Stats(ctx, s.galon, "", "")
	must(err, "stats")
	var sum float64
	for _, v := range values {
		sum += v
	}
	if st.Count != int64(len(values)) || math.Abs(st.Avg-sum/float64(len(values))) > 1e-9 {
		log.Fatalf("stats = %+v", st)
	}
	step("Galon appears in /galons")
	sums, err := s.api.Galons(ctx)
	must(err, "galons")
	found := false
	for _, g := range sums {
		if g.Galon == s.galon {
			found = true
		}
	}
	if !found {
		log.Fatalf("galon %s missing from /galons", s.galon)
	}
	step("Unknown galon -> 404")
	if _, err := s.api.Latest(ctx, s.galon+"_missing"); !errors.Is(err, client.ErrNotFound) {
		log.Fatalf("unknown galon: got %v, want not found", err)
	}

	log.Printf("E2E passed in %s", time.Since(started).Round(time.Millisecond))
}

// expectStatus 发送原始请求并校验状态码与 message 字段（wantMsg 为空时不校验）。
func (s *scenario) expectStatus(ctx context.Context, method, path string, body interface{}, want int, wantMsg string) error {
	req := s.raw.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if verbose {
		log.Printf("%s %s -> %d\n响应体: %s", method, path, resp.StatusCode(), prettyJSON(resp.Body()))
	}
	if resp.StatusCode() != want {
		return fmt.Errorf("%s %s: http %d, want %d: %s", method, path, resp.StatusCode(), want, safeTrunc(resp.String(), 400))
	}
	if wantMsg == "" {
		return nil
	}
	var env struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	if env.Message != wantMsg {
		return fmt.Errorf("%s %s: message %q, want %q", method, path, env.Message, wantMsg)
	}
	return nil
}

func prettyJSON(b []byte) string {
	var js any
	if err := json.Unmarshal(b, &js); err != nil {
		return safeTrunc(string(b), 1200)
	}
	pb, _ := json.MarshalIndent(js, "", "  ")
	return string(pb)
}

func safeTrunc(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
