package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/convergekit/converge/pkg/host"
)

// stubHandler converges everything as already in sync.
type stubHandler struct{}

func (stubHandler) Observe(ctx context.Context, h host.Host, r *Resource) (ObservedState, error) {
	return ObservedState{InSync: true}, nil
}

func (stubHandler) Apply(ctx context.Context, h host.Host, r *Resource) (ApplyResult, error) {
	return ApplyResult{}, nil
}

func (stubHandler) Refresh(ctx context.Context, h host.Host, r *Resource) error {
	return nil
}

// fakeHandler scripts per-title behavior and records calls.
type fakeHandler struct {
	mu sync.Mutex

	// inSync lists titles already converged at observe time.
	inSync map[string]bool

	// observeErr and applyErr fail the named titles.
	observeErr map[string]error
	applyErr   map[string]error

	// refreshErr fails the refresh of the named titles.
	refreshErr map[string]error

	// noChange lists titles whose apply reports Changed=false.
	noChange map[string]bool

	observed  []string
	applied   []string
	refreshed []string
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{
		inSync:     make(map[string]bool),
		observeErr: make(map[string]error),
		applyErr:   make(map[string]error),
		refreshErr: make(map[string]error),
		noChange:   make(map[string]bool),
	}
}

func (f *fakeHandler) Observe(ctx context.Context, h host.Host, r *Resource) (ObservedState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observed = append(f.observed, r.Ref.Title)
	if err := f.observeErr[r.Ref.Title]; err != nil {
		return ObservedState{}, err
	}
	return ObservedState{InSync: f.inSync[r.Ref.Title]}, nil
}

func (f *fakeHandler) Apply(ctx context.Context, h host.Host, r *Resource) (ApplyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, r.Ref.Title)
	if err := f.applyErr[r.Ref.Title]; err != nil {
		return ApplyResult{}, err
	}
	if f.noChange[r.Ref.Title] {
		return ApplyResult{Changed: false}, nil
	}
	return ApplyResult{Changed: true, Message: "converged"}, nil
}

func (f *fakeHandler) Refresh(ctx context.Context, h host.Host, r *Resource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, r.Ref.Title)
	return f.refreshErr[r.Ref.Title]
}

func (f *fakeHandler) refreshCount(title string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.refreshed {
		if t == title {
			n++
		}
	}
	return n
}

func fakeRegistry(t *testing.T, h Handler, kinds ...string) *Registry {
	t.Helper()
	reg := NewRegistry()
	for _, k := range kinds {
		if err := reg.Register(k, h); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
	}
	return reg
}

func resultFor(t *testing.T, report *RunReport, ref Ref) ResourceResult {
	t.Helper()
	for _, r := range report.Results {
		if r.Ref == ref {
			return r
		}
	}
	t.Fatalf("Expected report to contain %s", ref)
	return ResourceResult{}
}

func TestExecutor_Run_AllInSync(t *testing.T) {
	fh := newFakeHandler()
	fh.inSync["a"] = true
	fh.inSync["b"] = true

	cat := buildCatalog(t, []string{"a", "b"}, nil)
	exec := NewExecutor(fakeRegistry(t, fh, "exec"), nil)

	report, err := exec.Run(context.Background(), cat, RunOptions{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if report.Summary.Unchanged != 2 {
		t.Errorf("Expected 2 unchanged, got %d", report.Summary.Unchanged)
	}
	if !report.Summary.Succeeded() {
		t.Error("Expected run to succeed")
	}
	if report.Summary.Status() != RunStatusSucceeded {
		t.Errorf("Expected status succeeded, got %s", report.Summary.Status())
	}
	if len(fh.applied) != 0 {
		t.Errorf("Expected no applies, got %v", fh.applied)
	}
	if len(fh.refreshed) != 0 {
		t.Errorf("Expected no refreshes, got %v", fh.refreshed)
	}
}

func TestExecutor_Run_AppliesAndNotifies(t *testing.T) {
	fh := newFakeHandler()
	fh.inSync["svc"] = true

	cat := buildCatalog(t,
		[]string{"conf", "svc"},
		[]Edge{
			{From: execRef("conf"), To: execRef("svc"), Type: EdgeNotify},
		})
	exec := NewExecutor(fakeRegistry(t, fh, "exec"), nil)

	report, err := exec.Run(context.Background(), cat, RunOptions{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	conf := resultFor(t, report, execRef("conf"))
	if conf.Status != StatusApplied || !conf.Changed {
		t.Errorf("Expected conf applied with change, got %s changed=%t", conf.Status, conf.Changed)
	}

	svc := resultFor(t, report, execRef("svc"))
	if svc.Status != StatusRefreshed || !svc.Refreshed {
		t.Errorf("Expected svc refreshed, got %s refreshed=%t", svc.Status, svc.Refreshed)
	}
	if fh.refreshCount("svc") != 1 {
		t.Errorf("Expected exactly one refresh of svc, got %d", fh.refreshCount("svc"))
	}
	if report.Summary.Status() != RunStatusSucceeded {
		t.Errorf("Expected status succeeded, got %s", report.Summary.Status())
	}
}

func TestExecutor_Run_NoChangeNoNotify(t *testing.T) {
	fh := newFakeHandler()
	fh.inSync["svc"] = true
	// conf observes out of sync but its apply reports no actual change.
	fh.noChange["conf"] = true

	cat := buildCatalog(t,
		[]string{"conf", "svc"},
		[]Edge{
			{From: execRef("conf"), To: execRef("svc"), Type: EdgeNotify},
		})
	exec := NewExecutor(fakeRegistry(t, fh, "exec"), nil)

	report, err := exec.Run(context.Background(), cat, RunOptions{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	conf := resultFor(t, report, execRef("conf"))
	if conf.Status != StatusUnchanged {
		t.Errorf("Expected changeless apply to report unchanged, got %s", conf.Status)
	}
	if fh.refreshCount("svc") != 0 {
		t.Error("Expected no refresh when the notify source did not change")
	}
}

func TestExecutor_Run_CoalescedRefresh(t *testing.T) {
	fh := newFakeHandler()
	fh.inSync["svc"] = true

	// Two changed sources notify the same service.
	cat := buildCatalog(t,
		[]string{"conf1", "conf2", "svc"},
		[]Edge{
			{From: execRef("conf1"), To: execRef("svc"), Type: EdgeNotify},
			{From: execRef("conf2"), To: execRef("svc"), Type: EdgeNotify},
		})
	exec := NewExecutor(fakeRegistry(t, fh, "exec"), nil)

	report, err := exec.Run(context.Background(), cat, RunOptions{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if fh.refreshCount("svc") != 1 {
		t.Errorf("Expected coalesced single refresh, got %d", fh.refreshCount("svc"))
	}
	if report.Summary.Refreshed != 1 {
		t.Errorf("Expected 1 refreshed in summary, got %d", report.Summary.Refreshed)
	}
}

func TestExecutor_Run_FailureBlocksRequireDependents(t *testing.T) {
	fh := newFakeHandler()
	fh.applyErr["broken"] = errors.New("package manager exploded")
	fh.inSync["independent"] = true

	// broken -> mid -> leaf via require; independent stands alone.
	cat := buildCatalog(t,
		[]string{"broken", "mid", "leaf", "independent"},
		[]Edge{
			{From: execRef("broken"), To: execRef("mid"), Type: EdgeRequire},
			{From: execRef("mid"), To: execRef("leaf"), Type: EdgeRequire},
		})
	exec := NewExecutor(fakeRegistry(t, fh, "exec"), nil)

	report, err := exec.Run(context.Background(), cat, RunOptions{})
	if err != nil {
		t.Fatalf("Expected resource failure to be scoped, got run error: %v", err)
	}

	broken := resultFor(t, report, execRef("broken"))
	if broken.Status != StatusFailed {
		t.Errorf("Expected broken failed, got %s", broken.Status)
	}
	if broken.Error == nil || broken.Error.Code != ErrCodeApplyFailed {
		t.Errorf("Expected APPLY_FAILED on broken, got %v", broken.Error)
	}

	for _, title := range []string{"mid", "leaf"} {
		res := resultFor(t, report, execRef(title))
		if res.Status != StatusSkipped {
			t.Errorf("Expected %s skipped, got %s", title, res.Status)
		}
		if res.BlockedBy == nil || *res.BlockedBy != execRef("broken") {
			t.Errorf("Expected %s blocked by root failure broken, got %v", title, res.BlockedBy)
		}
	}

	indep := resultFor(t, report, execRef("independent"))
	if indep.Status != StatusUnchanged {
		t.Errorf("Expected independent branch to converge, got %s", indep.Status)
	}

	if report.Summary.Status() != RunStatusPartial {
		t.Errorf("Expected partial run, got %s", report.Summary.Status())
	}
	if report.Summary.Succeeded() {
		t.Error("Expected run with failures to not succeed")
	}
}

func TestExecutor_Run_NotifyEdgeDoesNotPropagateFailure(t *testing.T) {
	fh := newFakeHandler()
	fh.applyErr["conf"] = errors.New("disk full")
	fh.inSync["svc"] = true

	cat := buildCatalog(t,
		[]string{"conf", "svc"},
		[]Edge{
			{From: execRef("conf"), To: execRef("svc"), Type: EdgeNotify},
		})
	exec := NewExecutor(fakeRegistry(t, fh, "exec"), nil)

	report, err := exec.Run(context.Background(), cat, RunOptions{})
	if err != nil {
		t.Fatalf("Expected no run error, got: %v", err)
	}

	svc := resultFor(t, report, execRef("svc"))
	if svc.Status != StatusUnchanged {
		t.Errorf("Expected notify target to converge despite failed source, got %s", svc.Status)
	}
	if fh.refreshCount("svc") != 0 {
		t.Error("Expected no refresh from a failed source")
	}
}

func TestExecutor_Run_FailedResourceNeverRefreshes(t *testing.T) {
	fh := newFakeHandler()
	fh.applyErr["svc"] = errors.New("unit not found")

	cat := buildCatalog(t,
		[]string{"conf", "svc"},
		[]Edge{
			{From: execRef("conf"), To: execRef("svc"), Type: EdgeNotify},
		})
	exec := NewExecutor(fakeRegistry(t, fh, "exec"), nil)

	report, err := exec.Run(context.Background(), cat, RunOptions{})
	if err != nil {
		t.Fatalf("Expected no run error, got: %v", err)
	}

	svc := resultFor(t, report, execRef("svc"))
	if svc.Status != StatusFailed {
		t.Errorf("Expected svc failed, got %s", svc.Status)
	}
	if fh.refreshCount("svc") != 0 {
		t.Error("Expected failed resource to skip its marked refresh")
	}
}

func TestExecutor_Run_RefreshFailureMarksFailed(t *testing.T) {
	fh := newFakeHandler()
	fh.inSync["svc"] = true
	fh.refreshErr["svc"] = errors.New("restart failed")

	cat := buildCatalog(t,
		[]string{"conf", "svc"},
		[]Edge{
			{From: execRef("conf"), To: execRef("svc"), Type: EdgeNotify},
		})
	exec := NewExecutor(fakeRegistry(t, fh, "exec"), nil)

	report, err := exec.Run(context.Background(), cat, RunOptions{})
	if err != nil {
		t.Fatalf("Expected no run error, got: %v", err)
	}

	svc := resultFor(t, report, execRef("svc"))
	if svc.Status != StatusFailed {
		t.Errorf("Expected refresh failure to mark svc failed, got %s", svc.Status)
	}
	if report.Summary.Succeeded() {
		t.Error("Expected run with refresh failure to not succeed")
	}
}

func TestExecutor_Run_DryRun(t *testing.T) {
	fh := newFakeHandler()
	fh.inSync["svc"] = true

	cat := buildCatalog(t,
		[]string{"conf", "svc"},
		[]Edge{
			{From: execRef("conf"), To: execRef("svc"), Type: EdgeNotify},
		})
	exec := NewExecutor(fakeRegistry(t, fh, "exec"), nil)

	report, err := exec.Run(context.Background(), cat, RunOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !report.DryRun {
		t.Error("Expected report to be marked dry-run")
	}
	if len(fh.applied) != 0 || len(fh.refreshed) != 0 {
		t.Errorf("Expected dry-run to touch nothing, applied=%v refreshed=%v",
			fh.applied, fh.refreshed)
	}

	conf := resultFor(t, report, execRef("conf"))
	if conf.Status != StatusApplied || conf.Message != "would apply" {
		t.Errorf("Expected conf to report intended apply, got %s %q", conf.Status, conf.Message)
	}

	// Dry-run simulates notify propagation so the report shows the
	// refreshes a real run would perform.
	svc := resultFor(t, report, execRef("svc"))
	if svc.Status != StatusRefreshed {
		t.Errorf("Expected svc to report simulated refresh, got %s", svc.Status)
	}
}

func TestExecutor_Run_ObserveOrderRespectsRequire(t *testing.T) {
	fh := newFakeHandler()
	fh.inSync["first"] = true
	fh.inSync["second"] = true

	cat := buildCatalog(t,
		[]string{"second-decl", "first", "second"},
		[]Edge{
			{From: execRef("first"), To: execRef("second"), Type: EdgeRequire},
			{From: execRef("second"), To: execRef("second-decl"), Type: EdgeRequire},
		})
	exec := NewExecutor(fakeRegistry(t, fh, "exec"), nil)

	if _, err := exec.Run(context.Background(), cat, RunOptions{}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	pos := make(map[string]int, len(fh.observed))
	for i, title := range fh.observed {
		pos[title] = i
	}
	if pos["first"] > pos["second"] || pos["second"] > pos["second-decl"] {
		t.Errorf("Expected require order first < second < second-decl, got %v", fh.observed)
	}
}

func TestExecutor_Run_ParallelLevel(t *testing.T) {
	fh := newFakeHandler()

	titles := []string{"a", "b", "c", "d", "e", "f"}
	cat := buildCatalog(t, titles, nil)
	exec := NewExecutor(fakeRegistry(t, fh, "exec"), nil)

	report, err := exec.Run(context.Background(), cat, RunOptions{MaxParallel: 4})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if report.Summary.Applied != len(titles) {
		t.Errorf("Expected %d applied, got %d", len(titles), report.Summary.Applied)
	}
	if len(fh.applied) != len(titles) {
		t.Errorf("Expected every resource applied once, got %v", fh.applied)
	}
}

func TestExecutor_Run_NilCatalog(t *testing.T) {
	exec := NewExecutor(NewRegistry(), nil)

	_, err := exec.Run(context.Background(), nil, RunOptions{})
	if !IsBuildError(err) {
		t.Errorf("Expected build error for nil catalog, got: %v", err)
	}
}

func TestExecutor_Run_ResultsInDeclarationOrder(t *testing.T) {
	fh := newFakeHandler()
	cat := buildCatalog(t, []string{"z", "a", "m"}, nil)
	exec := NewExecutor(fakeRegistry(t, fh, "exec"), nil)

	report, err := exec.Run(context.Background(), cat, RunOptions{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []string{"z", "a", "m"}
	for i, title := range want {
		if report.Results[i].Ref.Title != title {
			t.Errorf("Expected result %d to be %s, got %s", i, title, report.Results[i].Ref.Title)
		}
	}
}

// fakeRecorder counts MetricsRecorder calls.
type fakeRecorder struct {
	mu        sync.Mutex
	started   []bool
	completed []RunStatus
	resources int
	codes     []string
}

func (f *fakeRecorder) RunStarted(dryRun bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, dryRun)
}

func (f *fakeRecorder) RunCompleted(status RunStatus, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, status)
}

func (f *fakeRecorder) ResourceConverged(kind string, status ResourceStatus, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resources++
}

func (f *fakeRecorder) ErrorByCode(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes = append(f.codes, code)
}

func TestExecutor_Run_RecordsMetrics(t *testing.T) {
	fh := newFakeHandler()
	rec := &fakeRecorder{}

	cat := buildCatalog(t, []string{"a", "b"}, nil)
	exec := NewExecutor(fakeRegistry(t, fh, "exec"), nil, WithMetrics(rec))

	report, err := exec.Run(context.Background(), cat, RunOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(rec.started) != 1 || !rec.started[0] {
		t.Errorf("Expected one dry-run start record, got %v", rec.started)
	}
	if len(rec.completed) != 1 || rec.completed[0] != report.Summary.Status() {
		t.Errorf("Expected one completion with status %s, got %v",
			report.Summary.Status(), rec.completed)
	}
	if rec.resources != 2 {
		t.Errorf("Expected 2 resource records, got %d", rec.resources)
	}
}
