package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	"wolfroute/internal/config"
	"wolfroute/internal/model"
)

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.RateRPS = 0
	cfg.DataDirs = []string{t.TempDir()}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := NewServer(cfg, logr.Discard())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

// twoCustomers has a best tour of exactly 20: depot -> (3,4) -> (-3,-4) -> depot.
var twoCustomers = model.VRPData{
	Depot: model.Coordinate{Lat: 0, Lng: 0},
	Customers: []model.Customer{
		{ID: 1, Lat: 3, Lng: 4, Demand: 5},
		{ID: 2, Lat: -3, Lng: -4, Demand: 5},
	},
}

func smallConfig() model.OptimizationConfig {
	seed := int64(7)
	return model.OptimizationConfig{
		NumWolves: 5, NumIterations: 10, RandomSeed: &seed,
		VehicleCapacity: 100, PenaltyCoefficient: 1000, ProgressInterval: 1,
	}
}

func createDataset(t *testing.T, h http.Handler) model.DatasetMeta {
	t.Helper()
	rr := do(t, h, http.MethodPost, "/v1/datasets", model.DatasetCreate{Name: "two", VRPData: twoCustomers})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create dataset: %d %s", rr.Code, rr.Body.String())
	}
	return decode[model.DatasetMeta](t, rr)
}

func createJob(t *testing.T, h http.Handler, datasetID string) model.Job {
	t.Helper()
	rr := do(t, h, http.MethodPost, "/v1/jobs", model.JobCreate{DatasetID: datasetID, Config: smallConfig()})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create job: %d %s", rr.Code, rr.Body.String())
	}
	return decode[model.Job](t, rr)
}

func TestHealthReady(t *testing.T) {
	h := newTestServer(t).Handler()
	if rr := do(t, h, http.MethodGet, "/healthz", nil); rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/readyz", nil); rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestRunJobEndToEnd(t *testing.T) {
	h := newTestServer(t).Handler()
	ds := createDataset(t, h)
	if ds.NumCustomers != 2 || ds.TotalDemand != 10 || ds.Fingerprint == "" {
		t.Fatalf("unexpected dataset meta %+v", ds)
	}
	job := createJob(t, h, ds.ID)
	if job.Status != model.JobPending {
		t.Fatalf("new job status %s", job.Status)
	}

	rr := do(t, h, http.MethodPost, "/v1/jobs/"+job.ID+"/run", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("run: %d %s", rr.Code, rr.Body.String())
	}
	res := decode[model.JobResult](t, rr)
	if res.BestFitness < 19.999 || res.BestFitness > 20.001 {
		t.Fatalf("best fitness %v, want 20", res.BestFitness)
	}
	if len(res.ConvergenceHistory) != 11 {
		t.Fatalf("trace length %d, want 11", len(res.ConvergenceHistory))
	}

	got := decode[model.JobResponse](t, do(t, h, http.MethodGet, "/v1/jobs/"+job.ID, nil))
	if got.Job.Status != model.JobCompleted || got.Result == nil {
		t.Fatalf("job after run: %+v", got)
	}

	// terminal jobs cannot be started or cancelled again
	if rr := do(t, h, http.MethodPost, "/v1/jobs/"+job.ID+"/start", nil); rr.Code != http.StatusConflict {
		t.Fatalf("restart: got %d", rr.Code)
	}
	rr = do(t, h, http.MethodPost, "/v1/jobs/"+job.ID+"/cancel", nil)
	if rr.Code != http.StatusConflict || !strings.Contains(rr.Body.String(), "completed") {
		t.Fatalf("cancel completed: %d %s", rr.Code, rr.Body.String())
	}

	list := decode[struct {
		Items []model.Job `json:"items"`
		Total int         `json:"total"`
	}](t, do(t, h, http.MethodGet, "/v1/jobs?status=completed&datasetId="+ds.ID, nil))
	if list.Total != 1 || len(list.Items) != 1 {
		t.Fatalf("list: %+v", list)
	}

	if rr := do(t, h, http.MethodDelete, "/v1/jobs/"+job.ID, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("delete: got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/v1/jobs/"+job.ID, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("get deleted: got %d", rr.Code)
	}
}

func TestCreateJobValidation(t *testing.T) {
	h := newTestServer(t).Handler()
	ds := createDataset(t, h)

	cfg := smallConfig()
	cfg.VehicleCapacity = 0
	rr := do(t, h, http.MethodPost, "/v1/jobs", model.JobCreate{DatasetID: ds.ID, Config: cfg})
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "capacity") {
		t.Fatalf("zero capacity: %d %s", rr.Code, rr.Body.String())
	}

	cfg = smallConfig()
	cfg.NumWolves = 2
	if rr := do(t, h, http.MethodPost, "/v1/jobs", model.JobCreate{DatasetID: ds.ID, Config: cfg}); rr.Code != http.StatusBadRequest {
		t.Fatalf("two wolves: got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/v1/jobs", model.JobCreate{DatasetID: "missing", Config: smallConfig()}); rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown dataset: got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/v1/jobs", `{"datasetId":`); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad json: got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/v1/jobs?status=bogus", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad status filter: got %d", rr.Code)
	}
}

func TestCreateJobAppliesDefaults(t *testing.T) {
	h := newTestServer(t).Handler()
	ds := createDataset(t, h)
	rr := do(t, h, http.MethodPost, "/v1/jobs", `{"datasetId":"`+ds.ID+`","config":{"numIterations":3}}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rr.Code, rr.Body.String())
	}
	job := decode[model.Job](t, rr)
	if job.Config.NumWolves != 30 || job.Config.VehicleCapacity != 100 || job.Config.NumIterations != 3 {
		t.Fatalf("defaults not applied: %+v", job.Config)
	}
	if job.Config.RandomSeed == nil || *job.Config.RandomSeed != 42 {
		t.Fatalf("default seed not applied: %+v", job.Config.RandomSeed)
	}
}

func TestUnknownJob(t *testing.T) {
	h := newTestServer(t).Handler()
	for _, p := range []string{"/v1/jobs/nope", "/v1/jobs/nope/result"} {
		if rr := do(t, h, http.MethodGet, p, nil); rr.Code != http.StatusNotFound {
			t.Fatalf("GET %s: got %d", p, rr.Code)
		}
	}
	for _, p := range []string{"/v1/jobs/nope/start", "/v1/jobs/nope/cancel"} {
		if rr := do(t, h, http.MethodPost, p, nil); rr.Code != http.StatusNotFound {
			t.Fatalf("POST %s: got %d", p, rr.Code)
		}
	}
	if rr := do(t, h, http.MethodPut, "/v1/jobs/nope/start", nil); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("PUT start: got %d", rr.Code)
	}
}

func TestCancelPendingJob(t *testing.T) {
	h := newTestServer(t).Handler()
	job := createJob(t, h, createDataset(t, h).ID)
	rr := do(t, h, http.MethodPost, "/v1/jobs/"+job.ID+"/cancel", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("cancel: %d %s", rr.Code, rr.Body.String())
	}
	if got := decode[model.Job](t, rr); got.Status != model.JobCancelled {
		t.Fatalf("status after cancel %s", got.Status)
	}
	if rr := do(t, h, http.MethodGet, "/v1/jobs/"+job.ID+"/result", nil); rr.Code != http.StatusConflict {
		t.Fatalf("result of cancelled: got %d", rr.Code)
	}
}

func TestEventStreamOfFinishedJob(t *testing.T) {
	h := newTestServer(t).Handler()
	job := createJob(t, h, createDataset(t, h).ID)
	if rr := do(t, h, http.MethodPost, "/v1/jobs/"+job.ID+"/run", nil); rr.Code != http.StatusOK {
		t.Fatalf("run: %d", rr.Code)
	}
	rr := do(t, h, http.MethodGet, "/v1/jobs/"+job.ID+"/events/stream", nil)
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "event: job.completed") {
		t.Fatalf("stream body %q", rr.Body.String())
	}
}

func TestOptimizeInline(t *testing.T) {
	h := newTestServer(t).Handler()
	rr := do(t, h, http.MethodPost, "/v1/optimize", model.OptimizationRequest{Config: smallConfig(), VRPData: twoCustomers})
	if rr.Code != http.StatusOK {
		t.Fatalf("optimize: %d %s", rr.Code, rr.Body.String())
	}
	res := decode[model.JobResult](t, rr)
	if len(res.Routes) == 0 || res.BestFitness < 19.999 || res.BestFitness > 20.001 {
		t.Fatalf("unexpected result %+v", res)
	}

	bad := model.OptimizationRequest{Config: smallConfig(), VRPData: model.VRPData{}}
	if rr := do(t, h, http.MethodPost, "/v1/optimize", bad); rr.Code != http.StatusBadRequest {
		t.Fatalf("no customers: got %d", rr.Code)
	}
}

func TestOptimizeWebSocket(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).Handler())
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/optimize", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()
	if err := conn.WriteJSON(model.OptimizationRequest{Config: smallConfig(), VRPData: twoCustomers}); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	var iters []int
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg["done"] == true {
			if bf := msg["best_fitness"].(float64); bf < 19.999 || bf > 20.001 {
				t.Fatalf("final best_fitness %v", bf)
			}
			break
		}
		if e, ok := msg["error"]; ok {
			t.Fatalf("server error %v", e)
		}
		iters = append(iters, int(msg["iter"].(float64)))
	}
	if len(iters) == 0 || iters[0] != 0 {
		t.Fatalf("progress iterations %v, want to start at 0", iters)
	}
	for i := 1; i < len(iters); i++ {
		if iters[i] <= iters[i-1] {
			t.Fatalf("progress out of order: %v", iters)
		}
	}
}

func TestOptimizeWebSocketRejectsBadConfig(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).Handler())
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/optimize", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()
	cfg := smallConfig()
	cfg.VehicleCapacity = 0
	if err := conn.WriteJSON(model.OptimizationRequest{Config: cfg, VRPData: twoCustomers}); err != nil {
		t.Fatal(err)
	}
	var msg map[string]string
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(msg["error"], "capacity") {
		t.Fatalf("got %v", msg)
	}
}

func TestDatasetsGenerateListDelete(t *testing.T) {
	h := newTestServer(t).Handler()
	seed := int64(1)
	rr := do(t, h, http.MethodPost, "/v1/datasets/generate", model.DatasetGenerateRequest{Name: "g", NumCustomers: 12, Seed: &seed, Clusters: 3})
	if rr.Code != http.StatusCreated {
		t.Fatalf("generate: %d %s", rr.Code, rr.Body.String())
	}
	meta := decode[model.DatasetMeta](t, rr)
	if meta.NumCustomers != 12 || meta.Format != model.FormatGenerated {
		t.Fatalf("meta %+v", meta)
	}

	ds := decode[model.Dataset](t, do(t, h, http.MethodGet, "/v1/datasets/"+meta.ID, nil))
	if len(ds.Data.Customers) != 12 {
		t.Fatalf("dataset has %d customers", len(ds.Data.Customers))
	}

	list := decode[struct {
		Items []model.DatasetMeta `json:"items"`
	}](t, do(t, h, http.MethodGet, "/v1/datasets?limit=10", nil))
	if len(list.Items) != 1 {
		t.Fatalf("list: %+v", list)
	}

	if rr := do(t, h, http.MethodDelete, "/v1/datasets/"+meta.ID, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/v1/datasets/"+meta.ID, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", rr.Code)
	}
}

func TestGenerateInstanceIsNotStored(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	rr := do(t, h, http.MethodPost, "/v1/instances/generate", model.DatasetGenerateRequest{NumCustomers: 4})
	if rr.Code != http.StatusOK {
		t.Fatalf("generate: %d %s", rr.Code, rr.Body.String())
	}
	out := decode[struct {
		VRPData model.VRPData `json:"vrpData"`
	}](t, rr)
	if len(out.VRPData.Customers) != 4 {
		t.Fatalf("got %d customers", len(out.VRPData.Customers))
	}
	items, _, _ := s.Store.ListDatasets(context.Background(), "", 10)
	if len(items) != 0 {
		t.Fatalf("instance was stored: %+v", items)
	}
}

func TestScanAndIngest(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	dir := s.Cfg.DataDirs[0]
	csv := "x,y,demand\n0,0,0\n1,1,3\n2,2,4\n"
	if err := os.WriteFile(filepath.Join(dir, "small.csv"), []byte(csv), 0o600); err != nil {
		t.Fatal(err)
	}

	scan := decode[model.ScanResponse](t, do(t, h, http.MethodGet, "/v1/datasets/scan", nil))
	if scan.TotalFound != 1 || scan.TotalValid != 1 {
		t.Fatalf("scan %+v", scan)
	}

	res := decode[model.IngestResponse](t, do(t, h, http.MethodPost, "/v1/datasets/ingest", model.IngestRequest{}))
	if res.TotalIngested != 1 || res.Ingested[0].NumCustomers != 2 {
		t.Fatalf("auto ingest %+v", res)
	}

	rr := do(t, h, http.MethodPost, "/v1/datasets/ingest", model.IngestRequest{Paths: []string{"/etc/passwd"}})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("outside data dir: got %d", rr.Code)
	}
}

func TestSubscriptions(t *testing.T) {
	h := newTestServer(t).Handler()
	bad := model.SubscriptionRequest{URL: "https://example.test/hook", Events: []string{"route.created"}}
	if rr := do(t, h, http.MethodPost, "/v1/subscriptions", bad); rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown event: got %d", rr.Code)
	}
	ok := model.SubscriptionRequest{URL: "https://example.test/hook", Events: []string{"job.completed"}, Secret: "s"}
	rr := do(t, h, http.MethodPost, "/v1/subscriptions", ok)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rr.Code, rr.Body.String())
	}
	sub := decode[model.Subscription](t, rr)
	if rr := do(t, h, http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("delete: got %d", rr.Code)
	}
}

func TestCompletedJobEnqueuesWebhook(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	sub := model.SubscriptionRequest{URL: "https://example.test/hook", Events: []string{"job.completed"}, Secret: "s"}
	if rr := do(t, h, http.MethodPost, "/v1/subscriptions", sub); rr.Code != http.StatusCreated {
		t.Fatalf("subscribe: %d", rr.Code)
	}
	job := createJob(t, h, createDataset(t, h).ID)
	if rr := do(t, h, http.MethodPost, "/v1/jobs/"+job.ID+"/run", nil); rr.Code != http.StatusOK {
		t.Fatalf("run: %d", rr.Code)
	}
	items, _, err := s.Store.ListWebhookDeliveries(context.Background(), "", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0]["eventType"] != "job.completed" {
		t.Fatalf("deliveries %+v", items)
	}
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) { c.RateRPS = 0.001; c.RateBurst = 1 }).Handler()
	if rr := do(t, h, http.MethodGet, "/v1/jobs", nil); rr.Code != http.StatusOK {
		t.Fatalf("first: got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/v1/jobs", nil); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second: got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/healthz", nil); rr.Code != http.StatusOK {
		t.Fatalf("health is exempt: got %d", rr.Code)
	}
}

func TestOpenAPIAndDebug(t *testing.T) {
	h := newTestServer(t).Handler()
	rr := do(t, h, http.MethodGet, "/openapi.json", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("openapi: %d %s", rr.Code, rr.Body.String())
	}
	doc := decode[map[string]any](t, rr)
	if _, ok := doc["paths"].(map[string]any)["/v1/jobs/{id}/cancel"]; !ok {
		t.Fatal("cancel path missing from document")
	}
	dbg := decode[map[string]any](t, do(t, h, http.MethodGet, "/debug/config", nil))
	if _, ok := dbg["build"]; !ok {
		t.Fatalf("debug %+v", dbg)
	}
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/v1/jobs/abc/cancel":   "/v1/jobs/{id}/cancel",
		"/v1/datasets/scan":     "/v1/datasets/scan",
		"/v1/datasets/xyz":      "/v1/datasets/{id}",
		"/v1/subscriptions/s1":  "/v1/subscriptions/{id}",
		"/healthz":              "/healthz",
	}
	for in, want := range cases {
		if got := routeLabel(in); got != want {
			t.Errorf("routeLabel(%q) = %q, want %q", in, got, want)
		}
	}
}
