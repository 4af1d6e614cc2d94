package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

// fakeAPI — минимальный admin API для проверки команд.
type fakeAPI struct {
	t        *testing.T
	requests []string
	bodies   map[string][]byte
	flows    map[string]FlowResponse
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()

	api := &fakeAPI{t: t, bodies: map[string][]byte{}, flows: map[string]FlowResponse{}}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/dags", func(w http.ResponseWriter, r *http.Request) {
		api.record(r)
		writeJSON(w, http.StatusOK, map[string]any{"data": []DagSummary{
			{ID: "etl_daily_1", Status: "RUNNING", Jobs: 2, Ready: []string{"load"}},
			{ID: "etl_daily_2", Status: "SUCCEEDED", Jobs: 2},
		}, "total": 2})
	})
	mux.HandleFunc("GET /api/v1/dags/{id}", func(w http.ResponseWriter, r *http.Request) {
		api.record(r)
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]string{"code": "NOT_FOUND", "message": "dag not found"}})
	})
	mux.HandleFunc("GET /api/v1/actions/{type}/{group}/{name}/{exec}", func(w http.ResponseWriter, r *http.Request) {
		api.record(r)
		writeJSON(w, http.StatusOK, map[string]any{"data": ActionResponse{
			ActionType: r.PathValue("type"), FlowGroup: r.PathValue("group"), FlowName: r.PathValue("name"),
			FlowExecutionID: 7, JobName: r.URL.Query().Get("job"), Owner: "host-a", Expired: true,
		}})
	})
	mux.HandleFunc("POST /api/v1/flows", func(w http.ResponseWriter, r *http.Request) {
		var req FlowRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		api.record(r)
		key := req.Group + "." + req.Name
		if _, ok := api.flows[key]; ok {
			writeJSON(w, http.StatusConflict, map[string]any{"error": map[string]string{"code": "CONFLICT", "message": "exists"}})
			return
		}
		f := FlowResponse{Group: req.Group, Name: req.Name, CronExpr: req.CronExpr, Timezone: "UTC", Enabled: true, Jobs: req.Jobs}
		api.flows[key] = f
		writeJSON(w, http.StatusCreated, map[string]any{"data": f})
	})
	mux.HandleFunc("PUT /api/v1/flows/{group}/{name}", func(w http.ResponseWriter, r *http.Request) {
		var req FlowRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		api.record(r)
		f := FlowResponse{Group: r.PathValue("group"), Name: r.PathValue("name"), CronExpr: req.CronExpr, Timezone: "UTC", Jobs: req.Jobs}
		if req.Enabled != nil {
			f.Enabled = *req.Enabled
		}
		api.flows[f.Group+"."+f.Name] = f
		writeJSON(w, http.StatusOK, map[string]any{"data": f})
	})
	mux.HandleFunc("POST /api/v1/flows/{group}/{name}/launch", func(w http.ResponseWriter, r *http.Request) {
		body := new(bytes.Buffer)
		_, _ = body.ReadFrom(r.Body)
		api.bodies[r.URL.Path] = body.Bytes()
		api.record(r)
		writeJSON(w, http.StatusOK, map[string]any{"data": LaunchResponse{Status: "obtained", DagID: "etl_daily_42", EventTimeMillis: 42, Owner: "host-a"}})
	})
	mux.HandleFunc("GET /api/v1/cron/next", func(w http.ResponseWriter, r *http.Request) {
		api.record(r)
		writeJSON(w, http.StatusOK, map[string]any{"data": CronNextResponse{Expr: r.URL.Query().Get("expr"), Next: []string{"2026-10-20T09:00:00Z"}}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return api, srv
}

func (a *fakeAPI) record(r *http.Request) {
	a.requests = append(a.requests, r.Method+" "+r.URL.RequestURI())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func runCmd(t *testing.T, srvURL string, jsonMode bool, build func(func() *Client, func() *Output) *cobra.Command, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	clientFn := func() *Client { return NewClient(srvURL) }
	outputFn := func() *Output { return NewOutputTo(jsonMode, &stdout, &stderr) }

	cmd := build(clientFn, outputFn)
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SilenceUsage = true
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestDagList_FiltersByStatus(t *testing.T) {
	_, srv := newFakeAPI(t)

	out, _, err := runCmd(t, srv.URL, false, NewDagCmd, "list", "--status", "running")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "etl_daily_1") || strings.Contains(out, "etl_daily_2") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "load") {
		t.Errorf("ready jobs missing:\n%s", out)
	}
}

func TestDagShow_NotFound(t *testing.T) {
	_, srv := newFakeAPI(t)

	_, _, err := runCmd(t, srv.URL, false, NewDagCmd, "show", "etl_daily_9")
	if !IsNotFound(err) {
		t.Fatalf("expected not found error, got %v", err)
	}
	if !strings.Contains(err.Error(), "dag not found") {
		t.Errorf("server message lost: %v", err)
	}
}

func TestActionShow_JobLevel(t *testing.T) {
	api, srv := newFakeAPI(t)

	out, _, err := runCmd(t, srv.URL, true, NewActionCmd, "show", "reevaluate", "etl", "daily", "7", "--job", "load")
	if err != nil {
		t.Fatal(err)
	}

	want := "GET /api/v1/actions/reevaluate/etl/daily/7?job=load"
	if len(api.requests) != 1 || api.requests[0] != want {
		t.Errorf("requests = %v, want %q", api.requests, want)
	}

	var got ActionResponse
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("json output: %v\n%s", err, out)
	}
	if got.JobName != "load" || actionState(got) != "expired" {
		t.Errorf("unexpected action %+v", got)
	}
}

func TestActionShow_BadExecID(t *testing.T) {
	api, srv := newFakeAPI(t)

	_, _, err := runCmd(t, srv.URL, false, NewActionCmd, "show", "launch", "etl", "daily", "seven")
	if err == nil {
		t.Fatal("expected error")
	}
	if len(api.requests) != 0 {
		t.Errorf("no request expected, got %v", api.requests)
	}
}

func TestFlowApply_CreatesThenUpdates(t *testing.T) {
	api, srv := newFakeAPI(t)

	path := filepath.Join(t.TempDir(), "flow.yaml")
	spec := `group: etl
name: daily
cron: "0 0 9 * * ?"
jobs:
  - name: extract
  - name: load
    depends_on: [extract]
`
	if err := os.WriteFile(path, []byte(spec), 0o644); err != nil {
		t.Fatal(err)
	}

	_, stderr, err := runCmd(t, srv.URL, false, NewFlowCmd, "apply", "-f", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stderr, "Flow created: etl.daily") {
		t.Errorf("unexpected stderr: %q", stderr)
	}
	if f := api.flows["etl.daily"]; len(f.Jobs) != 2 || f.Jobs[1].DependsOn[0] != "extract" {
		t.Errorf("jobs not sent: %+v", f)
	}

	_, stderr, err = runCmd(t, srv.URL, false, NewFlowCmd, "apply", "-f", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stderr, "Flow updated: etl.daily") {
		t.Errorf("second apply should update, stderr: %q", stderr)
	}
}

func TestFlowLaunch_SendsExecutionIDAndProps(t *testing.T) {
	api, srv := newFakeAPI(t)

	out, _, err := runCmd(t, srv.URL, false, NewFlowCmd, "launch", "etl", "daily", "--execution-id", "42", "--prop", "target=dwh")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "etl_daily_42") || !strings.Contains(out, "obtained") {
		t.Errorf("unexpected output:\n%s", out)
	}

	var req LaunchRequest
	if err := json.Unmarshal(api.bodies["/api/v1/flows/etl/daily/launch"], &req); err != nil {
		t.Fatal(err)
	}
	if req.ExecutionID == nil || *req.ExecutionID != 42 || req.Props["target"] != "dwh" {
		t.Errorf("unexpected launch request %+v", req)
	}
}

func TestFlowLaunch_InvalidProp(t *testing.T) {
	_, srv := newFakeAPI(t)

	_, _, err := runCmd(t, srv.URL, false, NewFlowCmd, "launch", "etl", "daily", "--prop", "novalue")
	if err == nil || !strings.Contains(err.Error(), "KEY=VALUE") {
		t.Errorf("expected prop parse error, got %v", err)
	}
}

func TestCronNext(t *testing.T) {
	api, srv := newFakeAPI(t)

	out, _, err := runCmd(t, srv.URL, false, NewCronCmd, "next", "0 0 9 * * ?", "--count", "1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "2026-10-20T09:00:00Z") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if len(api.requests) != 1 || !strings.Contains(api.requests[0], "count=1") {
		t.Errorf("unexpected requests %v", api.requests)
	}
}
