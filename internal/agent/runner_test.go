package agent

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/civicdesk/internal/activity"
	"github.com/kalambet/civicdesk/internal/composer"
	"github.com/kalambet/civicdesk/internal/ledger"
	"github.com/kalambet/civicdesk/internal/llm"
	"github.com/kalambet/civicdesk/internal/retrieval"
	"github.com/kalambet/civicdesk/internal/storage"
)

type mockSender struct {
	mu      sync.Mutex
	reply   string
	err     error
	panics  bool
	prompts []string
	params  []llm.Params
}

func (m *mockSender) Send(_ context.Context, prompt string, p llm.Params) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panics {
		panic("provider exploded")
	}
	m.prompts = append(m.prompts, prompt)
	m.params = append(m.params, p)
	return m.reply, m.err
}

type mockRetriever struct {
	passages []retrieval.Passage
	err      error
	queries  []string
	limits   []int
}

func (m *mockRetriever) Search(_ context.Context, query string, limit int, _ float64) ([]retrieval.Passage, error) {
	m.queries = append(m.queries, query)
	m.limits = append(m.limits, limit)
	return m.passages, m.err
}

type failingLedger struct{}

func (failingLedger) Append(context.Context, ledger.Entry) (string, error) {
	return "", ledger.ErrWrite
}

type recordingLog struct {
	mu      sync.Mutex
	actions []string
}

func (r *recordingLog) Record(_ context.Context, e activity.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, e.Action)
}

type agentMap map[int64]storage.Agent

func (m agentMap) Agent(id int64) (storage.Agent, bool) {
	a, ok := m[id]
	return a, ok
}

func newTestRunner(s Sender, ret retrieval.Retriever, led ledger.Ledger, log activity.Log) *Runner {
	return NewRunner(s, llm.NewSelector(llm.DefaultCatalog()), composer.New(0), ret, led, log, 0)
}

var classifier = storage.Agent{ID: 1, Name: "Классификатор", Type: "citizen_requests", Subtype: storage.SubtypeClassification, Active: true}

func TestRun_ClassifiesLightingComplaint(t *testing.T) {
	sender := &mockSender{reply: `{"classification":"improvement","confidence":0.92,"priority":"high","summary":"Нет освещения во дворе","keywords":["освещение"],"needsHumanReview":false}`}
	led := ledger.NewMemory()
	r := newTestRunner(sender, nil, led, nil)

	res := r.Run(context.Background(), classifier, Task{
		Type:     TypeClassification,
		Content:  "Жалоба на отсутствие освещения. Во дворе дома 5 третью неделю не горят фонари.",
		Metadata: map[string]any{"subject": "Жалоба на отсутствие освещения"},
	})

	if !res.Success {
		t.Fatalf("Run failed: %s", res.Error)
	}
	if !slices.Contains(composer.Categories, res.Field("classification")) {
		t.Errorf("classification %q not in category set", res.Field("classification"))
	}
	if !slices.Contains([]string{"low", "medium", "high", "urgent"}, res.Field("priority")) {
		t.Errorf("priority = %q", res.Field("priority"))
	}
	if res.TaskID == "" || res.AgentID != 1 {
		t.Errorf("ids = %q/%d", res.TaskID, res.AgentID)
	}
	if res.LedgerRef == "" {
		t.Error("expected a ledger reference")
	}
	entries := led.Entries()
	if len(entries) != 1 || !strings.Contains(entries[0].Metadata, `"classification":"improvement"`) {
		t.Errorf("ledger entries = %+v", entries)
	}
}

func TestRun_InactiveAgent(t *testing.T) {
	sender := &mockSender{reply: "x"}
	log := &recordingLog{}
	r := newTestRunner(sender, nil, nil, log)

	inactive := classifier
	inactive.Active = false
	res := r.Run(context.Background(), inactive, Task{Type: TypeClassification, Content: "x"})

	if res.Success || !errors.Is(res.Err, ErrAgentInactive) {
		t.Errorf("result = %+v, want ErrAgentInactive", res)
	}
	if len(sender.prompts) != 0 {
		t.Error("inactive agent must not call the gateway")
	}
	if !slices.Equal(log.actions, []string{"task_started", "task_failed"}) {
		t.Errorf("activity = %v", log.actions)
	}
}

func TestRun_GatewayFailure(t *testing.T) {
	sender := &mockSender{err: &llm.RateLimitError{Provider: llm.ProviderOpenAI}}
	r := newTestRunner(sender, nil, ledger.NewMemory(), nil)

	res := r.Run(context.Background(), classifier, Task{Type: TypeResponse, Content: "x"})
	if res.Success {
		t.Fatal("expected failure")
	}
	if !errors.Is(res.Err, llm.ErrRateLimit) {
		t.Errorf("Err = %v, want ErrRateLimit in chain", res.Err)
	}
	if res.Error == "" || res.LedgerRef != "" {
		t.Errorf("result = %+v", res)
	}
}

func TestRun_PanicRecovered(t *testing.T) {
	r := newTestRunner(&mockSender{panics: true}, nil, nil, nil)

	res := r.Run(context.Background(), classifier, Task{Type: TypeResponse, Content: "x"})
	if res.Success || !strings.Contains(res.Error, "panicked") {
		t.Errorf("result = %+v", res)
	}
}

func TestRun_JSONDegradation(t *testing.T) {
	tests := []struct {
		taskType     string
		metadata     map[string]any
		wantPriority bool
	}{
		{TypeClassification, nil, true},
		{TypeCitizenRequest, nil, false},
		{TypeAnalytics, nil, false},
		{TypeProtocol, nil, false},
		{TypeDocument, map[string]any{"outputFormat": "json"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.taskType, func(t *testing.T) {
			r := newTestRunner(&mockSender{reply: "  Извините, не могу определить категорию.  "}, nil, nil, nil)

			res := r.Run(context.Background(), classifier, Task{Type: tt.taskType, Content: "x", Metadata: tt.metadata})

			if !res.Success {
				t.Fatalf("degraded parse should still succeed: %s", res.Error)
			}
			if !res.NeedsHumanReview() {
				t.Error("needsHumanReview not set")
			}
			if res.Field("rawResponse") != "Извините, не могу определить категорию." {
				t.Errorf("rawResponse = %q", res.Field("rawResponse"))
			}
			if got := res.Field("priority"); tt.wantPriority && got != "medium" {
				t.Errorf("priority = %q, want medium", got)
			}
		})
	}
}

func TestRun_FencedJSON(t *testing.T) {
	reply := "Вот результат:\n```json\n{\"classification\":\"roads\",\"priority\":\"low\"}\n```"
	r := newTestRunner(&mockSender{reply: reply}, nil, nil, nil)

	res := r.Run(context.Background(), classifier, Task{Type: TypeClassification, Content: "яма на дороге"})
	if res.Field("classification") != "roads" || res.NeedsHumanReview() {
		t.Errorf("fields = %v", res.Output.Fields)
	}
}

func TestRun_TextTasksTrimmed(t *testing.T) {
	for _, tt := range []Task{
		{Type: TypeSummarization},
		{Type: TypeResponse},
		{Type: TypeTranslation},
		{Type: TypeRAG},
		{Type: TypeDocument},
	} {
		r := newTestRunner(&mockSender{reply: "\n  Уважаемый заявитель!  \n"}, nil, nil, nil)
		res := r.Run(context.Background(), classifier, tt)
		if res.Output.Text != "Уважаемый заявитель!" || res.Output.Fields != nil {
			t.Errorf("%s output = %+v", tt.Type, res.Output)
		}
	}
}

func TestRun_AgentOverridesSelector(t *testing.T) {
	sender := &mockSender{reply: "ok"}
	r := newTestRunner(sender, nil, nil, nil)

	custom := classifier
	custom.Model = "llama3.1"
	custom.Temperature = 0.9
	custom.MaxTokens = 123
	r.Run(context.Background(), custom, Task{Type: TypeSummarization, Content: "x"})

	got := sender.params[0]
	if got.Model != "llama3.1" || got.Temperature != 0.9 || got.MaxTokens != 123 {
		t.Errorf("params = %+v", got)
	}

	sender2 := &mockSender{reply: "ok"}
	newTestRunner(sender2, nil, nil, nil).Run(context.Background(), classifier, Task{Type: TypeClassification, Content: "x", Priority: "urgent"})
	want := llm.NewSelector(llm.DefaultCatalog()).Select(TypeClassification, "x", "urgent").Params()
	if sender2.params[0] != want {
		t.Errorf("params = %+v, want selector %+v", sender2.params[0], want)
	}
}

func TestRun_RAGEnrichment(t *testing.T) {
	ret := &mockRetriever{passages: []retrieval.Passage{{Text: "Срок ответа 30 дней", Score: 0.8, Source: "sample:response-deadline"}}}
	sender := &mockSender{reply: "ответ"}
	r := newTestRunner(sender, ret, nil, nil)

	ragAgent := classifier
	ragAgent.UseRAG = true
	res := r.Run(context.Background(), ragAgent, Task{
		Type:     TypeResponse,
		Content:  "Когда ответят?",
		Metadata: map[string]any{"subject": "Сроки", "classification": "legal"},
	})
	if !res.Success {
		t.Fatalf("Run: %s", res.Error)
	}
	if ret.limits[0] != 5 {
		t.Errorf("limit = %d, want 5 for response", ret.limits[0])
	}
	if ret.queries[0] != "Когда ответят? Сроки legal" {
		t.Errorf("query = %q", ret.queries[0])
	}
	if !strings.Contains(sender.prompts[0], "[Retrieved Context]") || !strings.Contains(sender.prompts[0], "30 дней") {
		t.Errorf("prompt lacks context:\n%s", sender.prompts[0])
	}

	r.Run(context.Background(), ragAgent, Task{Type: TypeClassification, Content: "x"})
	if ret.limits[1] != 3 {
		t.Errorf("limit = %d, want 3 for classification", ret.limits[1])
	}
}

func TestRun_RAGFailureSwallowed(t *testing.T) {
	ret := &mockRetriever{err: errors.New("index unavailable")}
	sender := &mockSender{reply: "ответ"}
	r := newTestRunner(sender, ret, nil, nil)

	ragAgent := classifier
	ragAgent.UseRAG = true
	res := r.Run(context.Background(), ragAgent, Task{Type: TypeRAG, Content: "вопрос"})
	if !res.Success {
		t.Fatalf("retrieval failure must not fail the task: %s", res.Error)
	}
	if strings.Contains(sender.prompts[0], "[Retrieved Context]") {
		t.Error("prompt should not have a context block")
	}
}

func TestRun_NoRAGWithoutFlag(t *testing.T) {
	ret := &mockRetriever{}
	r := newTestRunner(&mockSender{reply: "ok"}, ret, nil, nil)
	r.Run(context.Background(), classifier, Task{Type: TypeResponse, Content: "x"})
	if len(ret.queries) != 0 {
		t.Error("retriever called for an agent without RAG")
	}
}

func TestRun_LedgerFailureNonBlocking(t *testing.T) {
	log := &recordingLog{}
	r := newTestRunner(&mockSender{reply: `{"classification":"it","priority":"low"}`}, nil, failingLedger{}, log)

	res := r.Run(context.Background(), classifier, Task{Type: TypeClassification, Content: "нет интернета"})
	if !res.Success {
		t.Fatalf("ledger failure must not fail the task: %s", res.Error)
	}
	if res.LedgerRef != "" {
		t.Errorf("LedgerRef = %q, want empty", res.LedgerRef)
	}
	if !slices.Equal(log.actions, []string{"task_started", "task_completed"}) {
		t.Errorf("activity = %v", log.actions)
	}
}

func TestLedgerSummary(t *testing.T) {
	cls := ledgerSummary(Output{Fields: map[string]any{"classification": "it", "priority": "low", "summary": strings.Repeat("x", 5000)}})
	if len(cls) != 2 || cls["classification"] != "it" || cls["priority"] != "low" {
		t.Errorf("classification summary = %v", cls)
	}

	short := ledgerSummary(Output{Text: strings.Repeat("а", 300)})
	if p := short["preview"].(string); len([]rune(p)) != 200 {
		t.Errorf("preview length = %d runes", len([]rune(p)))
	}

	big := ledgerSummary(Output{Text: strings.Repeat("b", 2000)})
	if _, ok := big["result_size"]; !ok || big["preview"] != nil {
		t.Errorf("large summary = %v", big)
	}
}

func TestRunByID_NotFound(t *testing.T) {
	r := newTestRunner(&mockSender{}, nil, nil, nil)
	res := r.RunByID(context.Background(), agentMap{}, Task{AgentID: 42, Type: TypeResponse})
	if res.Success || !errors.Is(res.Err, ErrAgentNotFound) || res.TaskID == "" {
		t.Errorf("result = %+v", res)
	}

	res = r.RunByID(context.Background(), agentMap{1: classifier}, Task{AgentID: 1, Type: TypeResponse})
	if !res.Success {
		t.Errorf("RunByID: %s", res.Error)
	}
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{`{"a":1}`, false},
		{"```json\n{\"a\":1}\n```", false},
		{"prefix {\"a\":1} suffix", false},
		{"no json here", true},
		{"{broken", true},
		{"{\"a\":}", true},
	}
	for _, tt := range tests {
		_, err := parseJSON(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseJSON(%q) err = %v", tt.in, err)
		}
		if err != nil && !errors.Is(err, ErrResponseParse) {
			t.Errorf("parseJSON(%q) err not ErrResponseParse", tt.in)
		}
	}
}
