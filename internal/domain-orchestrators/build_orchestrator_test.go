package orchestrators

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ochairo/devbox/internal/domain/entities"
	"github.com/ochairo/devbox/internal/domain/services"
)

// Mock implementations for testing
type mockRecipeRepository struct {
	recipe *entities.Recipe
	err    error
}

func (m *mockRecipeRepository) GetRecipe(_ context.Context, name string) (*entities.Recipe, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.recipe == nil || m.recipe.Name != name {
		return nil, errors.New("recipe not found: " + name)
	}
	return m.recipe, nil
}

func (m *mockRecipeRepository) ListRecipes(_ context.Context) ([]*entities.Recipe, error) {
	return []*entities.Recipe{m.recipe}, nil
}

// recorder collects calls from every mocked dependency in order
type recorder struct {
	calls []string
}

type mockFetcher struct {
	rec   *recorder
	steps []entities.DownloadStep
	err   error
}

func (m *mockFetcher) Fetch(ctx context.Context, step entities.DownloadStep) error {
	m.rec.calls = append(m.rec.calls, "fetch "+step.Name)
	m.steps = append(m.steps, step)
	if m.err != nil {
		return m.err
	}
	if step.Transform != nil {
		return step.Transform(ctx, "/tmp/"+step.Name)
	}
	return nil
}

type mockTransforms struct {
	rec  *recorder
	envs [][]entities.EnvVar
}

func (m *mockTransforms) Build(ops []entities.TransformOp, env []entities.EnvVar) entities.TransformFunc {
	m.envs = append(m.envs, env)
	return func(_ context.Context, path string) error {
		m.rec.calls = append(m.rec.calls, "transform "+path)
		return nil
	}
}

type mockRunner struct {
	rec    *recorder
	envs   [][]entities.EnvVar
	failOn string
}

func (m *mockRunner) RunStep(_ context.Context, script, _ string, env []entities.EnvVar, output io.Writer) error {
	m.rec.calls = append(m.rec.calls, "run "+script)
	m.envs = append(m.envs, env)
	if m.failOn != "" && script == m.failOn {
		return errors.New("exit status 1")
	}
	_, _ = io.WriteString(output, script+"\n")
	return nil
}

type mockFileSystem struct {
	rec *recorder
	env []entities.EnvVar
}

func (m *mockFileSystem) Copy(spec entities.CopySpec) error {
	m.rec.calls = append(m.rec.calls, "copy "+spec.Src)
	return nil
}

func (m *mockFileSystem) Mkdir(spec entities.MkdirSpec) error {
	m.rec.calls = append(m.rec.calls, "mkdir "+spec.Path)
	return nil
}

func (m *mockFileSystem) WriteEnv(env []entities.EnvVar) error {
	m.rec.calls = append(m.rec.calls, "env")
	m.env = env
	return nil
}

type mockObserver struct {
	statuses []entities.StepStatus
}

func (m *mockObserver) ObserveStep(_ entities.StepKind, status entities.StepStatus, _ time.Duration) {
	m.statuses = append(m.statuses, status)
}

func testRecipe() *entities.Recipe {
	return &entities.Recipe{
		Name: "box",
		From: "golang:{go_version}",
		Vars: map[string]string{"go_version": "1.22", "gocache": "/cache"},
		Tools: map[string]entities.Tool{
			"protoc": {
				Name:     "protoc",
				Version:  "25.1",
				URL:      "https://github.com/protocolbuffers/protobuf/releases/download/v{version}/protoc-{version}-linux-x86_64.zip",
				Artifact: "protoc.zip",
				Transform: []entities.TransformOp{
					{Kind: entities.OpUnzip, Dest: "/usr"},
				},
			},
			"mkcert": {
				Name:     "mkcert",
				Version:  "1.4.4",
				URL:      "https://github.com/FiloSottile/mkcert/releases/download/v{version}/mkcert-v{version}-linux-amd64",
				Artifact: "mkcert",
			},
		},
		Steps: []entities.Step{
			{Kind: entities.StepRun, Run: "apt-get update"},
			{Kind: entities.StepEnv, Env: []entities.EnvVar{{Key: "GOCACHE", Value: "{gocache}"}}},
			{Kind: entities.StepTool, Tool: "protoc"},
			{Kind: entities.StepMkdir, Mkdir: entities.MkdirSpec{Path: "{gocache}", Mode: "0777"}},
			{Kind: entities.StepTool, Tool: "mkcert"},
			{Kind: entities.StepCopy, Copy: entities.CopySpec{Src: "entrypoint.sh", Dest: "/entrypoint.sh"}},
			{Kind: entities.StepRun, Run: "go install example.com/tool@latest"},
		},
		Variants: map[string]entities.Variant{
			"full":  {Tools: []string{"protoc", "mkcert"}},
			"proto": {Tools: []string{"protoc"}},
		},
		DefaultVariant: "full",
	}
}

type testDeps struct {
	rec        *recorder
	fetcher    *mockFetcher
	transforms *mockTransforms
	runner     *mockRunner
	fs         *mockFileSystem
	observer   *mockObserver
}

func newTestOrchestrator(recipe *entities.Recipe) (*BuildOrchestrator, *testDeps) {
	rec := &recorder{}
	deps := &testDeps{
		rec:        rec,
		fetcher:    &mockFetcher{rec: rec},
		transforms: &mockTransforms{rec: rec},
		runner:     &mockRunner{rec: rec},
		fs:         &mockFileSystem{rec: rec},
		observer:   &mockObserver{},
	}
	o := NewBuildOrchestrator(BuildOrchestratorConfig{
		RecipeRepo: &mockRecipeRepository{recipe: recipe},
		Planner:    services.NewPlanner(),
		Fetcher:    deps.fetcher,
		Transforms: deps.transforms,
		Runner:     deps.runner,
		FileSystem: deps.fs,
		Observer:   deps.observer,
	})
	return o, deps
}

func TestBuildOrchestrator_Build_Success(t *testing.T) {
	o, deps := newTestOrchestrator(testRecipe())

	result, err := o.Build(context.Background(), BuildRequest{Recipe: "box"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !result.Success {
		t.Error("Expected build to succeed")
	}
	if result.BuildID == "" {
		t.Error("Expected a build ID")
	}
	if result.Variant != "full" {
		t.Errorf("Variant = %q, want full", result.Variant)
	}

	want := []string{
		"run apt-get update",
		"env",
		"fetch protoc.zip",
		"transform /tmp/protoc.zip",
		"mkdir /cache",
		"fetch mkcert",
		"transform /tmp/mkcert",
		"copy entrypoint.sh",
		"run go install example.com/tool@latest",
	}
	if strings.Join(deps.rec.calls, "\n") != strings.Join(want, "\n") {
		t.Errorf("calls =\n%s\nwant\n%s", strings.Join(deps.rec.calls, "\n"), strings.Join(want, "\n"))
	}

	if len(result.Steps) != 7 {
		t.Fatalf("len(Steps) = %d, want 7", len(result.Steps))
	}
	for _, s := range result.Steps {
		if s.Status != entities.StepSucceeded {
			t.Errorf("step %d status = %s, want succeeded", s.Index, s.Status)
		}
	}
	if len(deps.observer.statuses) != 7 {
		t.Errorf("observed %d steps, want 7", len(deps.observer.statuses))
	}
}

func TestBuildOrchestrator_Build_DownloadStepFromTool(t *testing.T) {
	o, deps := newTestOrchestrator(testRecipe())

	if _, err := o.Build(context.Background(), BuildRequest{Recipe: "box", Variant: "proto"}); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if len(deps.fetcher.steps) != 1 {
		t.Fatalf("fetched %d artifacts, want 1", len(deps.fetcher.steps))
	}
	step := deps.fetcher.steps[0]
	if step.Name != "protoc.zip" {
		t.Errorf("Name = %q, want protoc.zip", step.Name)
	}
	wantURL := "https://github.com/protocolbuffers/protobuf/releases/download/v25.1/protoc-25.1-linux-x86_64.zip"
	if step.URL != wantURL {
		t.Errorf("URL = %q, want %q", step.URL, wantURL)
	}
	if step.Transform == nil {
		t.Error("Expected a transform")
	}
}

func TestBuildOrchestrator_Build_EnvAccumulates(t *testing.T) {
	o, deps := newTestOrchestrator(testRecipe())

	if _, err := o.Build(context.Background(), BuildRequest{Recipe: "box"}); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if len(deps.runner.envs) != 2 {
		t.Fatalf("run steps = %d, want 2", len(deps.runner.envs))
	}
	first := deps.runner.envs[0]
	if len(first) != 1 || first[0] != (entities.EnvVar{Key: "ROOT", Value: "/"}) {
		t.Errorf("first run step env = %v, want only ROOT=/", first)
	}
	last := deps.runner.envs[1]
	if len(last) != 2 || last[0] != (entities.EnvVar{Key: "GOCACHE", Value: "/cache"}) || last[1].Key != "ROOT" {
		t.Errorf("second run step env = %v, want GOCACHE=/cache then ROOT", last)
	}
	if len(deps.fs.env) != 1 {
		t.Errorf("persisted env = %v", deps.fs.env)
	}
	for _, env := range deps.transforms.envs {
		if len(env) != 1 {
			t.Errorf("transform env = %v, want GOCACHE", env)
		}
	}
}

func TestBuildOrchestrator_Build_HostRunUnderRoot(t *testing.T) {
	root := t.TempDir()
	newOrchestrator := func(allow bool) (*BuildOrchestrator, *testDeps) {
		rec := &recorder{}
		deps := &testDeps{
			rec:        rec,
			fetcher:    &mockFetcher{rec: rec},
			transforms: &mockTransforms{rec: rec},
			runner:     &mockRunner{rec: rec},
			fs:         &mockFileSystem{rec: rec},
			observer:   &mockObserver{},
		}
		return NewBuildOrchestrator(BuildOrchestratorConfig{
			RecipeRepo:   &mockRecipeRepository{recipe: testRecipe()},
			Planner:      services.NewPlanner(),
			Fetcher:      deps.fetcher,
			Transforms:   deps.transforms,
			Runner:       deps.runner,
			FileSystem:   deps.fs,
			Observer:     deps.observer,
			Root:         root + "/",
			AllowHostRun: allow,
		}), deps
	}

	o, deps := newOrchestrator(false)
	result, err := o.Build(context.Background(), BuildRequest{Recipe: "box"})
	if !errors.Is(err, entities.ErrHostRun) {
		t.Fatalf("Build() error = %v, want ErrHostRun", err)
	}
	if result != nil {
		t.Errorf("refused build returned a result: %+v", result)
	}
	if len(deps.rec.calls) != 0 {
		t.Errorf("refused build ran steps: %v", deps.rec.calls)
	}

	o, deps = newOrchestrator(true)
	if _, err := o.Build(context.Background(), BuildRequest{Recipe: "box"}); err != nil {
		t.Fatalf("Build() with host runs allowed error = %v", err)
	}
	for i, env := range deps.runner.envs {
		if got := env[len(env)-1]; got != (entities.EnvVar{Key: "ROOT", Value: root}) {
			t.Errorf("run step %d ROOT = %v, want %s", i+1, got, root)
		}
	}
}

func TestBuildOrchestrator_Build_HostRunInToolTransform(t *testing.T) {
	recipe := testRecipe()
	recipe.Steps = []entities.Step{{Kind: entities.StepTool, Tool: "protoc"}}
	protoc := recipe.Tools["protoc"]
	protoc.Transform = append(protoc.Transform, entities.TransformOp{Kind: entities.OpRun, Script: "make install"})
	recipe.Tools["protoc"] = protoc

	o := NewBuildOrchestrator(BuildOrchestratorConfig{
		RecipeRepo: &mockRecipeRepository{recipe: recipe},
		Planner:    services.NewPlanner(),
		Root:       t.TempDir(),
	})
	if _, err := o.Build(context.Background(), BuildRequest{Recipe: "box", Variant: "proto"}); !errors.Is(err, entities.ErrHostRun) {
		t.Errorf("Build() error = %v, want ErrHostRun", err)
	}
}

func TestBuildOrchestrator_Build_FailFast(t *testing.T) {
	recipe := testRecipe()
	o, deps := newTestOrchestrator(recipe)
	deps.runner.failOn = "apt-get update"

	result, err := o.Build(context.Background(), BuildRequest{Recipe: "box"})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}

	var stepErr *entities.StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("Expected *entities.StepError, got %T", err)
	}
	if stepErr.Index != 1 {
		t.Errorf("failed step = %d, want 1", stepErr.Index)
	}
	if result.Success {
		t.Error("Expected build to fail")
	}
	if result.FailedStep != 1 {
		t.Errorf("FailedStep = %d, want 1", result.FailedStep)
	}

	if len(deps.rec.calls) != 1 {
		t.Errorf("calls after failure = %v, want only the failing run", deps.rec.calls)
	}
	for _, s := range result.Steps[1:] {
		if s.Status != entities.StepSkipped {
			t.Errorf("step %d status = %s, want skipped", s.Index, s.Status)
		}
	}
	if result.Steps[0].Status != entities.StepFailed || result.Steps[0].Error == "" {
		t.Errorf("first step = %+v, want failed with error", result.Steps[0])
	}
	if len(deps.observer.statuses) != 1 {
		t.Errorf("observed %d steps, want 1", len(deps.observer.statuses))
	}
}

func TestBuildOrchestrator_Build_FetchFailure(t *testing.T) {
	o, deps := newTestOrchestrator(testRecipe())
	deps.fetcher.err = errors.New("download failed: HTTP 404")

	result, err := o.Build(context.Background(), BuildRequest{Recipe: "box"})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if result.FailedStep != 3 {
		t.Errorf("FailedStep = %d, want 3", result.FailedStep)
	}
	if !strings.Contains(err.Error(), "HTTP 404") {
		t.Errorf("error = %v, want fetch cause", err)
	}
	for _, c := range deps.rec.calls {
		if strings.HasPrefix(c, "mkdir") || strings.HasPrefix(c, "copy") {
			t.Errorf("step ran after failure: %s", c)
		}
	}
}

func TestBuildOrchestrator_Build_RecipeErrors(t *testing.T) {
	tests := []struct {
		name    string
		req     BuildRequest
		wantErr error
		errText string
	}{
		{
			name:    "unknown recipe",
			req:     BuildRequest{Recipe: "missing"},
			errText: "failed to load recipe",
		},
		{
			name:    "unknown variant",
			req:     BuildRequest{Recipe: "box", Variant: "tiny"},
			wantErr: entities.ErrUnknownVariant,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, deps := newTestOrchestrator(testRecipe())

			result, err := o.Build(context.Background(), tt.req)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if result != nil {
				t.Error("Expected nil result when nothing ran")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if tt.errText != "" && !strings.Contains(err.Error(), tt.errText) {
				t.Errorf("error = %v, want %q", err, tt.errText)
			}
			if len(deps.rec.calls) != 0 {
				t.Errorf("calls = %v, want none", deps.rec.calls)
			}
		})
	}
}

func TestBuildOrchestrator_Build_VarOverrides(t *testing.T) {
	o, deps := newTestOrchestrator(testRecipe())

	_, err := o.Build(context.Background(), BuildRequest{
		Recipe:  "box",
		Variant: "proto",
		Vars:    map[string]string{"gocache": "/var/cache/go"},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if deps.fs.env[0].Value != "/var/cache/go" {
		t.Errorf("GOCACHE = %q, want /var/cache/go", deps.fs.env[0].Value)
	}
}

func TestBuildOrchestrator_Execute_ContextCanceled(t *testing.T) {
	o, deps := newTestOrchestrator(testRecipe())
	plan, err := o.Plan(context.Background(), BuildRequest{Recipe: "box"})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := o.Execute(ctx, plan)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if len(deps.rec.calls) != 0 {
		t.Errorf("calls = %v, want none", deps.rec.calls)
	}
	if result.FailedStep != 1 {
		t.Errorf("FailedStep = %d, want 1", result.FailedStep)
	}
}

func TestMergeEnv(t *testing.T) {
	env := []entities.EnvVar{{Key: "A", Value: "1"}, {Key: "B", Value: "2"}}
	got := MergeEnv(env, []entities.EnvVar{{Key: "A", Value: "3"}, {Key: "C", Value: "4"}})

	want := []entities.EnvVar{{Key: "B", Value: "2"}, {Key: "A", Value: "3"}, {Key: "C", Value: "4"}}
	if len(got) != len(want) {
		t.Fatalf("MergeEnv() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("MergeEnv()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if env[0].Value != "1" {
		t.Error("MergeEnv() must not modify its input")
	}
}

func TestBuildResult_WriteManifest(t *testing.T) {
	o, deps := newTestOrchestrator(testRecipe())
	deps.runner.failOn = "go install example.com/tool@latest"

	result, _ := o.Build(context.Background(), BuildRequest{Recipe: "box"})

	path := filepath.Join(t.TempDir(), "out", "manifest.json")
	if err := result.WriteManifest(path); err != nil {
		t.Fatalf("WriteManifest() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var manifest struct {
		BuildID    string                `json:"build_id"`
		Recipe     string                `json:"recipe"`
		Steps      []entities.StepReport `json:"steps"`
		FailedStep int                   `json:"failed_step"`
		Success    bool                  `json:"success"`
		Error      string                `json:"error"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		t.Fatalf("manifest is not valid JSON: %v", err)
	}
	if manifest.BuildID != result.BuildID || manifest.Recipe != "box" {
		t.Errorf("manifest = %+v", manifest)
	}
	if manifest.Success || manifest.FailedStep != 7 {
		t.Errorf("manifest success=%v failed_step=%d, want false/7", manifest.Success, manifest.FailedStep)
	}
	if !strings.Contains(manifest.Error, "step 7") {
		t.Errorf("manifest error = %q", manifest.Error)
	}
	if len(manifest.Steps) != 7 {
		t.Errorf("manifest steps = %d, want 7", len(manifest.Steps))
	}
}

func TestBuildResult_GetBuildSummary(t *testing.T) {
	o, _ := newTestOrchestrator(testRecipe())
	result, err := o.Build(context.Background(), BuildRequest{Recipe: "box"})
	if err != nil {
		t.Fatal(err)
	}

	summary := result.GetBuildSummary()
	for _, want := range []string{"Build successful!", "Recipe: box", "Variant: full", "tool: protoc 25.1"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}

	failed := &BuildResult{Error: errors.New("boom")}
	if !strings.Contains(failed.GetBuildSummary(), "Build failed: boom") {
		t.Errorf("failed summary = %q", failed.GetBuildSummary())
	}
}
