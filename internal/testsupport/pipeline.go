package testsupport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"stepdeck/internal/remote"
)

// Reply is one scripted response of the fake pipeline.
type Reply struct {
	Code int
	Body any
}

// Initiated is the /run reply that starts a step.
func Initiated() Reply {
	return Reply{Body: remote.RunResponse{Status: remote.StatusInitiated}}
}

// HTTPError replies with a non-2xx status and a JSON message.
func HTTPError(code int, message string) Reply {
	return Reply{Code: code, Body: map[string]string{"message": message}}
}

// Status replies to /status with the given status and progress counters.
func Status(status string, current, total int, text string) Reply {
	return Reply{Body: remote.StatusResponse{
		Status:          status,
		Log:             []string{status},
		ProgressCurrent: current,
		ProgressTotal:   total,
		ProgressText:    text,
	}}
}

// Cancelled replies to /status with a failed step carrying the cancellation
// return code.
func Cancelled() Reply {
	rc := -9
	return Reply{Body: remote.StatusResponse{Status: "failed", Log: []string{"cancelled"}, ReturnCode: &rc}}
}

// Pipeline is a scriptable fake of the remote pipeline. Each endpoint and
// step has a queue of replies; the last reply repeats once the queue drains.
type Pipeline struct {
	Server *httptest.Server

	mu      sync.Mutex
	scripts map[string][]Reply
	calls   map[string]int
	order   []string
}

// NewPipeline starts a fake pipeline that is closed when the test ends.
// Unscripted steps are initiated on /run, report idle on /status and accept
// /cancel.
func NewPipeline(t testing.TB) *Pipeline {
	t.Helper()
	p := &Pipeline{
		scripts: make(map[string][]Reply),
		calls:   make(map[string]int),
	}
	p.Server = httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(p.Server.Close)
	return p
}

// URL is the base address of the fake pipeline.
func (p *Pipeline) URL() string {
	return p.Server.URL
}

// Client returns a remote client bound to the fake pipeline.
func (p *Pipeline) Client(t testing.TB) *remote.Client {
	t.Helper()
	client, err := remote.NewClient(p.URL())
	if err != nil {
		t.Fatalf("remote.NewClient: %v", err)
	}
	return client
}

// OnRun replaces the /run script for a step.
func (p *Pipeline) OnRun(step string, replies ...Reply) { p.script("run", step, replies) }

// OnStatus replaces the /status script for a step.
func (p *Pipeline) OnStatus(step string, replies ...Reply) { p.script("status", step, replies) }

// OnCancel replaces the /cancel script for a step.
func (p *Pipeline) OnCancel(step string, replies ...Reply) { p.script("cancel", step, replies) }

// Calls counts requests to an endpoint for a step.
func (p *Pipeline) Calls(action, step string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[action+"/"+step]
}

// RunOrder lists the steps in the order /run was called.
func (p *Pipeline) RunOrder() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.order...)
}

func (p *Pipeline) script(action, step string, replies []Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[action+"/"+step] = append([]Reply(nil), replies...)
}

func (p *Pipeline) next(action, step string) Reply {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := action + "/" + step
	p.calls[key]++
	if action == "run" {
		p.order = append(p.order, step)
	}
	queue := p.scripts[key]
	switch len(queue) {
	case 0:
		return defaultReply(action)
	case 1:
		return queue[0]
	default:
		p.scripts[key] = queue[1:]
		return queue[0]
	}
}

func defaultReply(action string) Reply {
	switch action {
	case "run":
		return Initiated()
	case "status":
		return Status("idle", 0, 0, "")
	default:
		return Reply{Body: remote.CancelResponse{Message: "cancel requested"}}
	}
}

func (p *Pipeline) serve(w http.ResponseWriter, r *http.Request) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.EscapedPath(), "/"), "/", 2)
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	action := parts[0]
	step, err := url.PathUnescape(parts[1])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	wantMethod := http.MethodPost
	switch action {
	case "status":
		wantMethod = http.MethodGet
	case "run", "cancel":
	default:
		http.NotFound(w, r)
		return
	}
	if r.Method != wantMethod {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reply := p.next(action, step)
	code := reply.Code
	if code == 0 {
		code = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if reply.Body != nil {
		_ = json.NewEncoder(w).Encode(reply.Body)
	}
}
