package api

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/civicdesk/internal/activity"
	"github.com/kalambet/civicdesk/internal/agent"
	"github.com/kalambet/civicdesk/internal/composer"
	"github.com/kalambet/civicdesk/internal/dispatch"
	"github.com/kalambet/civicdesk/internal/ledger"
	"github.com/kalambet/civicdesk/internal/llm"
	"github.com/kalambet/civicdesk/internal/orgconfig"
	"github.com/kalambet/civicdesk/internal/pipeline"
	"github.com/kalambet/civicdesk/internal/retrieval"
	"github.com/kalambet/civicdesk/internal/routing"
	"github.com/kalambet/civicdesk/internal/storage"
)

const testToken = "test-token-12345"

// fakeSender answers prompts carrying the classification schema with
// classify and everything else with text.
type fakeSender struct {
	mu       sync.Mutex
	classify string
	text     string
	err      error
	calls    int
}

func (f *fakeSender) Send(_ context.Context, prompt string, _ llm.Params) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if strings.Contains(prompt, "needsHumanReview") {
		return f.classify, nil
	}
	return f.text, nil
}

const itReply = `{"classification":"it","confidence":0.88,"priority":"high","summary":"Нет интернета в библиотеке","keywords":["интернет"],"needsHumanReview":false}`

var testSeed = orgconfig.SeedFile{
	Departments: []storage.Department{
		{ID: 1, Code: "ADM", Name: "Администрация"},
		{ID: 3, Code: "IT", Name: "Отдел информационных технологий"},
	},
	Positions: []storage.Position{
		{ID: 31, DepartmentID: 3, Name: "Начальник отдела ИТ", Level: 1, CanAssign: true, HolderID: "it-chief"},
	},
	Agents: []storage.Agent{
		{ID: 1, Name: "Классификатор", Type: "citizen_requests", Subtype: storage.SubtypeClassification, Active: true},
		{ID: 2, Name: "Автор ответов", Type: "citizen_requests", Subtype: storage.SubtypeResponse, Active: true, UseRAG: true},
		{ID: 3, Name: "Отключённый", Type: "citizen_requests", Subtype: storage.SubtypeGeneric},
	},
}

type harness struct {
	store  *storage.Store
	sender *fakeSender
	deps   Deps
	mcp    MCPDeps
}

func newHarness(t *testing.T, sender *fakeSender) *harness {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if _, err := orgconfig.Seed(ctx, store, testSeed); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	config := orgconfig.NewManager(store)
	if err := config.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	log := activity.NewStore(store)
	led := ledger.NewSQLite(store)
	kw := retrieval.NewKeywordRetriever(retrieval.SampleCorpus())
	runner := agent.NewRunner(sender, llm.NewSelector(llm.DefaultCatalog()), composer.New(0), kw, led, log, 0)
	router := routing.NewRouter(config, runner, log)
	orch := pipeline.NewOrchestrator(store, config, runner, router, led, log)

	return &harness{
		store:  store,
		sender: sender,
		deps: Deps{
			Store:     store,
			Pipeline:  orch,
			Jobs:      dispatch.NewQueue(store, 0),
			Runner:    runner,
			Config:    config,
			Retriever: kw,
			Token:     testToken,
		},
		mcp: MCPDeps{
			Pipeline:  orch,
			Runner:    runner,
			Config:    config,
			Retriever: kw,
		},
	}
}

func (h *harness) do(t *testing.T, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	NewHandler(h.deps).ServeHTTP(rr, req)
	return rr
}

func (h *harness) createRequest(t *testing.T, subject, description string) int64 {
	t.Helper()
	id, err := h.store.CreateRequest(context.Background(), storage.Request{Subject: subject, Description: description})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	return id
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}
