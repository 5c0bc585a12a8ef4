package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"aiscene/pkg/domain"
	"aiscene/pkg/queue"
	"aiscene/pkg/store"
	"aiscene/services/project/internal/app"
)

const testAPIKey = "test-key"

type fakeObjectStore struct {
	put []string
}

func (f *fakeObjectStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	io.Copy(io.Discard, r)
	f.put = append(f.put, key)
	return nil
}

func (f *fakeObjectStore) PresignPut(_ context.Context, key, contentType string) (domain.PresignedUpload, error) {
	return domain.PresignedUpload{
		UploadURL:     "https://minio.test/bucket/" + key,
		PublicURL:     f.PublicURL(key),
		ObjectKey:     key,
		SignedHeaders: map[string]string{"Content-Type": contentType},
	}, nil
}

func (f *fakeObjectStore) PublicURL(key string) string {
	return "https://cdn.test/bucket/" + key
}

func (f *fakeObjectStore) Bucket() string { return "bucket" }

func (f *fakeObjectStore) Delete(context.Context, string) error { return nil }

type submitted struct {
	task      string
	projectID string
}

type fakeDispatcher struct {
	tasks []submitted
}

func (f *fakeDispatcher) SubmitAnalysis(_ context.Context, projectID, assetID, videoURL string) (string, error) {
	f.tasks = append(f.tasks, submitted{task: queue.TaskAnalyzeVideo, projectID: projectID})
	return "task-analyze", nil
}

func (f *fakeDispatcher) SubmitScriptGeneration(_ context.Context, projectID string, _ json.RawMessage, _ []queue.TimelineAsset) (string, error) {
	f.tasks = append(f.tasks, submitted{task: queue.TaskGenerateScript, projectID: projectID})
	return "task-script", nil
}

func (f *fakeDispatcher) SubmitAudioGeneration(_ context.Context, projectID, _ string) (string, error) {
	f.tasks = append(f.tasks, submitted{task: queue.TaskGenerateAudio, projectID: projectID})
	return "task-audio", nil
}

func (f *fakeDispatcher) SubmitRenderPipeline(_ context.Context, projectID, _ string, _ []queue.TimelineAsset, _ string) (string, error) {
	f.tasks = append(f.tasks, submitted{task: queue.TaskRenderPipeline, projectID: projectID})
	return "task-render", nil
}

func (f *fakeDispatcher) PendingCount(context.Context) (int64, error) {
	return int64(len(f.tasks)), nil
}

func newTestServer(t *testing.T) (*httptest.Server, *store.MemoryStore, *fakeDispatcher) {
	t.Helper()
	memStore := store.NewMemoryStore()
	dispatcher := &fakeDispatcher{}
	appCore, err := app.New(app.Config{
		Store:      memStore,
		Objects:    &fakeObjectStore{},
		Dispatcher: dispatcher,
	})
	if err != nil {
		t.Fatalf("init app: %v", err)
	}
	srv := httptest.NewServer(New(Config{App: appCore, APIKey: testAPIKey}).Router())
	t.Cleanup(srv.Close)
	return srv, memStore, dispatcher
}

func doRequest(t *testing.T, method, url, contentType, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "ApiKey "+testAPIKey)
	req.Header.Set("X-User-Id", "123")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func createProject(t *testing.T, srv *httptest.Server) domain.Project {
	t.Helper()
	resp := doRequest(t, http.MethodPost, srv.URL+"/v1/projects", "application/json",
		`{"userId":123,"title":"Lakeside 2BR","houseInfo":{"community":"Lakeside","room":2}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create project: status %d", resp.StatusCode)
	}
	return decodeBody[domain.Project](t, resp)
}

func TestMissingAPIKeyRejected(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/v1/projects")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestCreateAndGetProject(t *testing.T) {
	srv, _, _ := newTestServer(t)
	project := createProject(t, srv)
	if project.ID == "" || project.Status != domain.StatusDraft {
		t.Fatalf("unexpected project: %+v", project)
	}

	resp := doRequest(t, http.MethodGet, srv.URL+"/v1/projects/"+project.ID, "", "")
	got := decodeBody[domain.Project](t, resp)
	if got.ID != project.ID || got.Title != "Lakeside 2BR" {
		t.Fatalf("get project: %+v", got)
	}
}

func TestPresignRejectsUnsupportedContentType(t *testing.T) {
	srv, _, _ := newTestServer(t)
	project := createProject(t, srv)

	url := fmt.Sprintf("%s/v1/projects/%s/assets/presign?filename=a.exe&contentType=application/octet-stream", srv.URL, project.ID)
	resp := doRequest(t, http.MethodPost, url, "", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestConfirmAssetFlow(t *testing.T) {
	srv, memStore, dispatcher := newTestServer(t)
	project := createProject(t, srv)

	// Confirm then timeline: the new clip must be the only asset, at
	// position zero, and the project must have entered analysis.
	confirmURL := srv.URL + "/v1/projects/" + project.ID + "/assets/confirm"
	resp := doRequest(t, http.MethodPost, confirmURL, "application/json",
		`{"objectKey":"abc-clip.mp4","filename":"clip.mp4","contentType":"video/mp4","size":1024}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm: status %d", resp.StatusCode)
	}
	asset := decodeBody[domain.Asset](t, resp)
	if asset.SortOrder != 0 {
		t.Fatalf("sortOrder = %d, want 0", asset.SortOrder)
	}
	if asset.StorageKey != "abc-clip.mp4" || asset.OssURL == "" {
		t.Fatalf("unexpected asset: %+v", asset)
	}

	stored, ok, _ := memStore.GetProject(project.ID)
	if !ok || stored.Status != domain.StatusAnalyzing {
		t.Fatalf("project status = %q, want ANALYZING", stored.Status)
	}
	if len(dispatcher.tasks) != 1 || dispatcher.tasks[0].task != queue.TaskAnalyzeVideo {
		t.Fatalf("tasks = %+v", dispatcher.tasks)
	}

	resp = doRequest(t, http.MethodGet, srv.URL+"/v1/projects/"+project.ID+"/timeline", "", "")
	timeline := decodeBody[struct {
		ProjectID string         `json:"projectId"`
		Assets    []domain.Asset `json:"assets"`
	}](t, resp)
	if len(timeline.Assets) != 1 || timeline.Assets[0].ID != asset.ID || timeline.Assets[0].SortOrder != 0 {
		t.Fatalf("timeline assets = %+v", timeline.Assets)
	}
}

func TestTimelineSmartSort(t *testing.T) {
	srv, memStore, _ := newTestServer(t)
	project := createProject(t, srv)

	// Analyzed clips in upload order: bedroom, gate, living room.
	labels := []string{"卧室", "小区门头", "客厅"}
	for i, label := range labels {
		memStore.SaveAsset(domain.Asset{
			ID:         fmt.Sprintf("a%d", i),
			ProjectID:  project.ID,
			OssURL:     fmt.Sprintf("https://cdn.test/%d.mp4", i),
			SceneLabel: label,
			SortOrder:  i,
		})
	}

	resp := doRequest(t, http.MethodGet, srv.URL+"/v1/projects/"+project.ID+"/timeline", "", "")
	timeline := decodeBody[struct {
		Assets []domain.Asset `json:"assets"`
	}](t, resp)

	var got []string
	for _, a := range timeline.Assets {
		got = append(got, a.SceneLabel)
	}
	want := []string{"小区门头", "客厅", "卧室"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestUpdateAssetSetsBothLabels(t *testing.T) {
	srv, memStore, _ := newTestServer(t)
	project := createProject(t, srv)
	memStore.SaveAsset(domain.Asset{ID: "a1", ProjectID: project.ID, SceneLabel: "厨房", SortOrder: 0})

	url := srv.URL + "/v1/projects/" + project.ID + "/assets/a1"
	resp := doRequest(t, http.MethodPut, url, "application/json", `{"userLabel":"主卧"}`)
	asset := decodeBody[domain.Asset](t, resp)
	if asset.UserLabel != "主卧" || asset.SceneLabel != "主卧" {
		t.Fatalf("labels = user %q, scene %q", asset.UserLabel, asset.SceneLabel)
	}
}

func TestScriptLifecycle(t *testing.T) {
	srv, memStore, dispatcher := newTestServer(t)
	project := createProject(t, srv)
	memStore.SaveAsset(domain.Asset{ID: "a1", ProjectID: project.ID, SceneLabel: "客厅", OssURL: "u", SortOrder: 0})

	// Generate moves to SCRIPT_GENERATING and queues the task.
	resp := doRequest(t, http.MethodPost, srv.URL+"/v1/projects/"+project.ID+"/script", "", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("generate script: status %d", resp.StatusCode)
	}
	ack := decodeBody[struct {
		TaskID string               `json:"taskId"`
		Status domain.ProjectStatus `json:"status"`
	}](t, resp)
	if ack.TaskID != "task-script" || ack.Status != domain.StatusScriptGenerating {
		t.Fatalf("ack = %+v", ack)
	}
	if dispatcher.tasks[len(dispatcher.tasks)-1].task != queue.TaskGenerateScript {
		t.Fatalf("tasks = %+v", dispatcher.tasks)
	}

	// User edits land as SCRIPT_GENERATED.
	resp = doRequest(t, http.MethodPut, srv.URL+"/v1/projects/"+project.ID+"/script", "text/plain",
		`{"segments":[{"text":"welcome"}]}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("update script: status %d", resp.StatusCode)
	}
	stored, _, _ := memStore.GetProject(project.ID)
	if stored.Status != domain.StatusScriptGenerated {
		t.Fatalf("status = %q", stored.Status)
	}

	// A string-form script edits back as bare prose; the body is stored
	// re-wrapped as a JSON string, never rejected.
	resp = doRequest(t, http.MethodPut, srv.URL+"/v1/projects/"+project.ID+"/script", "text/plain",
		"欢迎参观这套湖景两居室。")
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("plain-text script edit: status %d", resp.StatusCode)
	}
	stored, _, _ = memStore.GetProject(project.ID)
	if string(stored.ScriptContent) != `"欢迎参观这套湖景两居室。"` {
		t.Fatalf("stored script = %s, want re-wrapped JSON string", stored.ScriptContent)
	}
	if stored.Status != domain.StatusScriptGenerated {
		t.Fatalf("status after plain-text edit = %q", stored.Status)
	}
}

func TestUpdateScriptRejectedWhileProcessing(t *testing.T) {
	srv, memStore, _ := newTestServer(t)
	project := createProject(t, srv)

	project.Status = domain.StatusAudioGenerating
	memStore.SaveProject(project)

	resp := doRequest(t, http.MethodPut, srv.URL+"/v1/projects/"+project.ID+"/script", "text/plain", `"edited"`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	errBody := decodeBody[struct {
		Code string `json:"code"`
	}](t, resp)
	if errBody.Code != "project_processing" {
		t.Fatalf("code = %q", errBody.Code)
	}
}

func TestRenderGuards(t *testing.T) {
	srv, memStore, dispatcher := newTestServer(t)
	project := createProject(t, srv)
	renderURL := srv.URL + "/v1/projects/" + project.ID + "/render"

	// No script yet.
	resp := doRequest(t, http.MethodPost, renderURL, "", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("empty script: status %d", resp.StatusCode)
	}

	project.ScriptContent = json.RawMessage(`"narration"`)
	project.Status = domain.StatusScriptGenerated
	memStore.SaveProject(project)

	// Script but no assets.
	resp = doRequest(t, http.MethodPost, renderURL, "", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("no assets: status %d", resp.StatusCode)
	}

	memStore.SaveAsset(domain.Asset{ID: "a1", ProjectID: project.ID, OssURL: "u", SortOrder: 0})

	resp = doRequest(t, http.MethodPost, renderURL, "", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("render: status %d", resp.StatusCode)
	}
	stored, _, _ := memStore.GetProject(project.ID)
	if stored.Status != domain.StatusRendering {
		t.Fatalf("status = %q, want RENDERING", stored.Status)
	}
	if dispatcher.tasks[len(dispatcher.tasks)-1].task != queue.TaskRenderPipeline {
		t.Fatalf("tasks = %+v", dispatcher.tasks)
	}

	// Already rendering: second request must not pass the guard.
	resp = doRequest(t, http.MethodPost, renderURL, "", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("double render: status %d", resp.StatusCode)
	}
}

func TestRenderAllowedFromFailed(t *testing.T) {
	srv, memStore, _ := newTestServer(t)
	project := createProject(t, srv)
	project.ScriptContent = json.RawMessage(`"narration"`)
	project.Status = domain.StatusFailed
	memStore.SaveProject(project)
	memStore.SaveAsset(domain.Asset{ID: "a1", ProjectID: project.ID, OssURL: "u", SortOrder: 0})

	resp := doRequest(t, http.MethodPost, srv.URL+"/v1/projects/"+project.ID+"/render", "", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("retry render: status %d", resp.StatusCode)
	}
}

func TestGenerateAudio(t *testing.T) {
	srv, memStore, dispatcher := newTestServer(t)
	project := createProject(t, srv)

	resp := doRequest(t, http.MethodPost, srv.URL+"/v1/projects/"+project.ID+"/audio", "text/plain", `"narration text"`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("audio: status %d", resp.StatusCode)
	}
	stored, _, _ := memStore.GetProject(project.ID)
	if stored.Status != domain.StatusAudioGenerating {
		t.Fatalf("status = %q", stored.Status)
	}
	if dispatcher.tasks[len(dispatcher.tasks)-1].task != queue.TaskGenerateAudio {
		t.Fatalf("tasks = %+v", dispatcher.tasks)
	}
}

func TestListProjectsPaged(t *testing.T) {
	srv, _, _ := newTestServer(t)
	for i := 0; i < 3; i++ {
		createProject(t, srv)
	}

	resp := doRequest(t, http.MethodGet, srv.URL+"/v1/projects?page=1&size=2", "", "")
	page := decodeBody[domain.ProjectPage](t, resp)
	if page.TotalElements != 3 || page.TotalPages != 2 || len(page.Content) != 2 {
		t.Fatalf("page = total %d, pages %d, content %d", page.TotalElements, page.TotalPages, len(page.Content))
	}
}
