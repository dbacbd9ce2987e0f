package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/kalambet/civicdesk/internal/config"
	"github.com/kalambet/civicdesk/internal/dispatch"
	"github.com/kalambet/civicdesk/internal/storage"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"request not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

// useServer points newAPIClient at ts for the duration of the test.
func useServer(t *testing.T, ts *testServer) {
	t.Helper()
	old := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() { newAPIClient = old })
}

// testCmd returns a command with a context and captured output.
func testCmd(t *testing.T) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	cmd := &cobra.Command{}
	cmd.Flags().Bool("json", false, "")
	cmd.Flags().Int("limit", 5, "")
	cmd.Flags().Float64("min-score", 0, "")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetContext(context.Background())
	return cmd, &out
}

var ctx = context.Background()

func TestProcessCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /requests/5/process": `{"id":5,"status":"in_progress","subject":"Нет интернета","ai_classification":"it","ai_confidence":0.9,"priority":"high","department_id":3,"assigned_to":"it-chief","ai_processed":true,"ledger_ref":"abc"}`,
	})
	useServer(t, ts)

	cmd, out := testCmd(t)
	if err := runRequestStep(cmd, "5", "process"); err != nil {
		t.Fatalf("runRequestStep: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	req := ts.requests[0]
	if req.Method != "POST" || req.Path != "/requests/5/process" {
		t.Errorf("request = %s %s", req.Method, req.Path)
	}
	if req.Auth != "Bearer test-token" {
		t.Errorf("auth = %q", req.Auth)
	}
	for _, want := range []string{"it (0.90)", "it-chief", "high", "abc"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestProcessCommand_JSON(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /requests/5/process": `{"id":5,"status":"in_progress","ai_processed":true}`,
	})
	useServer(t, ts)

	cmd, out := testCmd(t)
	cmd.Flags().Set("json", "true")
	if err := runRequestStep(cmd, "5", "process"); err != nil {
		t.Fatalf("runRequestStep: %v", err)
	}
	if !strings.Contains(out.String(), `"status": "in_progress"`) {
		t.Errorf("output = %s", out.String())
	}
}

func TestProcessCommand_InvalidID(t *testing.T) {
	ts := newTestServer(t, nil)
	useServer(t, ts)

	cmd, _ := testCmd(t)
	for _, id := range []string{"abc", "0", "-3"} {
		if err := runRequestStep(cmd, id, "process"); err == nil {
			t.Errorf("id %q: expected error", id)
		}
	}
	if len(ts.requests) != 0 {
		t.Errorf("invalid ids must not reach the server, got %d requests", len(ts.requests))
	}
}

func TestProcessCommand_NotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	useServer(t, ts)

	cmd, _ := testCmd(t)
	err := runRequestStep(cmd, "99", "process")
	if err == nil {
		t.Fatal("expected error for missing request")
	}
	if !strings.Contains(err.Error(), "request not found") {
		t.Errorf("error = %q, want the server message", err.Error())
	}
}

func TestRespondCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /requests/7/response": `{"id":7,"status":"in_progress","ai_processed":true,"response_text":"Уважаемый заявитель!"}`,
	})
	useServer(t, ts)

	cmd, out := testCmd(t)
	if err := runRequestStep(cmd, "7", "response"); err != nil {
		t.Fatalf("runRequestStep: %v", err)
	}
	if strings.TrimSpace(out.String()) != "Уважаемый заявитель!" {
		t.Errorf("output = %q", out.String())
	}
}

func TestSearchCommand_URLEncoding(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /knowledge/search": `[{"text":"Порядок обжалования штрафов","score":0.8,"source":"sample:appeal-fines"}]`,
	})
	useServer(t, ts)

	cmd, out := testCmd(t)
	cmd.Flags().Set("limit", "3")
	if err := searchCmd.RunE(cmd, []string{"обжалование", "штрафа"}); err != nil {
		t.Fatalf("search: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	u, err := url.Parse(ts.requests[0].Path)
	if err != nil {
		t.Fatalf("parsing path: %v", err)
	}
	if got := u.Query().Get("q"); got != "обжалование штрафа" {
		t.Errorf("q = %q", got)
	}
	if got := u.Query().Get("limit"); got != "3" {
		t.Errorf("limit = %q", got)
	}
	if u.Query().Has("min_score") {
		t.Error("min_score should be omitted when unset")
	}
	if !strings.Contains(out.String(), "sample:appeal-fines") {
		t.Errorf("output = %s", out.String())
	}
}

func TestFormatPassages_Empty(t *testing.T) {
	var buf bytes.Buffer
	formatPassages(&buf, nil)
	if !strings.Contains(buf.String(), "No matching passages") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestAPIClient_ServerDown(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close()

	client := &apiClient{baseURL: ts.URL, token: "x", httpClient: http.DefaultClient}
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"invalid or missing bearer token","type":"authentication_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, token: "bad-token", httpClient: ts.Client()}
	resp, err := client.get(ctx, "/requests")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "bearer token") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if got := colorize(colorGreen, "ok"); got != "ok" {
		t.Errorf("colorize with noColor = %q", got)
	}

	noColor = false
	if got := colorize(colorGreen, "ok"); !strings.Contains(got, "\033[") {
		t.Errorf("colorize without noColor should contain ANSI codes, got %q", got)
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4000
	cfg.Retrieval.Backend = "keyword"

	found := map[string]bool{}
	for _, k := range config.ShowAll(cfg) {
		found[k.Key+"="+k.Value] = true
	}
	for _, want := range []string{"server.port=4000", "retrieval.backend=keyword"} {
		if !found[want] {
			t.Errorf("ShowAll missing %s", want)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

const testSeedYAML = `
departments:
  - {id: 1, code: ADM, name: Администрация, level: 0}
agents:
  - {id: 1, name: Классификатор, type: citizen_requests, subtype: classification, active: true}
knowledge:
  - id: doc-fines
    title: Обжалование штрафов
    content: Штраф можно обжаловать в течение десяти дней.
    tags: [штраф]
`

func TestSeedStore_QueuesNewDocs(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	defer store.Close()

	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(testSeedYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	stats, err := seedStore(ctx, store, path, 3)
	if err != nil {
		t.Fatalf("seedStore: %v", err)
	}
	if stats.Agents != 1 || stats.Knowledge != 1 {
		t.Errorf("stats = %s", stats)
	}

	job, err := store.ClaimNextJob(ctx, []string{dispatch.JobIndexKnowledge})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil || !strings.Contains(job.PayloadJSON, "doc-fines") {
		t.Fatalf("expected index job for doc-fines, got %+v", job)
	}

	// Re-seeding keeps the doc and queues nothing new.
	if _, err := seedStore(ctx, store, path, 3); err != nil {
		t.Fatalf("second seedStore: %v", err)
	}
	if job, _ := store.ClaimNextJob(ctx, []string{dispatch.JobIndexKnowledge}); job != nil {
		t.Errorf("unexpected second index job %+v", job)
	}

	// Changed content replaces the doc and queues a reindex.
	changed := strings.Replace(testSeedYAML, "десяти дней", "двадцати дней", 1)
	if err := os.WriteFile(path, []byte(changed), 0o644); err != nil {
		t.Fatal(err)
	}
	stats, err = seedStore(ctx, store, path, 3)
	if err != nil {
		t.Fatalf("third seedStore: %v", err)
	}
	if len(stats.ChangedDocIDs) != 1 || len(stats.NewDocIDs) != 0 {
		t.Errorf("stats = %+v", stats)
	}
	job, _ = store.ClaimNextJob(ctx, []string{dispatch.JobIndexKnowledge})
	if job == nil || !strings.Contains(job.PayloadJSON, `"reindex":true`) {
		t.Fatalf("expected reindex job, got %+v", job)
	}
	doc, _ := store.GetKnowledgeDoc(ctx, "doc-fines")
	if !strings.Contains(doc.Content, "двадцати") {
		t.Errorf("content = %q", doc.Content)
	}
}

func TestPrintServerStatus_ReportsVectors(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok","knowledge_vectors":12}`,
	})
	var out bytes.Buffer
	printServerStatus(ctx, &out, ts.client(), 7777)
	if !strings.Contains(out.String(), "running on port 7777") || !strings.Contains(out.String(), "12") {
		t.Errorf("status output = %q", out.String())
	}

	keyword := newTestServer(t, map[string]string{"GET /health": `{"status":"ok"}`})
	out.Reset()
	printServerStatus(ctx, &out, keyword.client(), 7777)
	if strings.Contains(out.String(), "Vectors") {
		t.Errorf("status output = %q, want no vector line", out.String())
	}
}

func TestSeedIfEmpty_SkipsConfiguredStore(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	defer store.Close()

	if _, err := store.SaveAgent(ctx, storage.Agent{ID: 9, Name: "existing", Type: "citizen_requests", Subtype: "generic", Active: true}); err != nil {
		t.Fatal(err)
	}

	cfg := config.Config{}
	cfg.Org.SeedFile = filepath.Join(t.TempDir(), "missing.yaml")
	if err := seedIfEmpty(ctx, store, cfg); err != nil {
		t.Errorf("seedIfEmpty should not read the seed file when agents exist: %v", err)
	}
}

func TestBuildRetriever_Keyword(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	defer store.Close()

	cfg := config.Config{}
	cfg.Retrieval.Backend = "keyword"
	rb, err := buildRetriever(ctx, store, cfg)
	if err != nil {
		t.Fatalf("buildRetriever: %v", err)
	}
	if rb.indexer != nil {
		t.Error("keyword backend should not have an indexer")
	}
	if rb.refresh == nil {
		t.Fatal("keyword backend needs a refresh hook")
	}

	passages, err := rb.retriever.Search(ctx, "штраф", 5, 0.1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(passages) == 0 {
		t.Fatal("expected sample corpus hits")
	}

	if err := store.SaveKnowledgeDoc(ctx, storage.KnowledgeDoc{ID: "d1", Title: "Парковка", Content: "Парковочные разрешения выдает отдел дорожного хозяйства", Source: "test"}); err != nil {
		t.Fatal(err)
	}
	if err := rb.refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	passages, err = rb.retriever.Search(ctx, "парковочные разрешения", 5, 0.1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(passages) == 0 || !strings.Contains(passages[0].Text, "Парковочные") {
		t.Errorf("refresh did not pick up the new doc: %+v", passages)
	}
}
