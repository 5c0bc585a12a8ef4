package projectview

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"aiscene/clients/projectclient"
	"aiscene/pkg/domain"
)

func newTestStore(t *testing.T, handler http.Handler) (*Store, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := projectclient.NewClient(srv.URL, "test-key")
	return NewStore(client, slog.Default()), srv
}

func TestRefreshProjectOverwritesErrorFields(t *testing.T) {
	payload := `{"id":"p1","title":"Lakeside 2BR","status":"FAILED",
		"houseInfo":{"community":"Lakeside","room":3,"hall":2,"restroom":2,"area":98.5,"price":320.0,"sellingPoints":["south facing"],"remarks":"corner unit"},
		"scriptContent":"\"old script\"",
		"errorLog":"ffmpeg exited 1","errorTaskId":"t-9","errorRequestId":"req-9","errorStep":"render"}`
	clean := `{"id":"p1","title":"Lakeside 2BR","status":"RENDERING",
		"houseInfo":{"community":"Lakeside","room":3,"hall":2,"restroom":2,"area":98.5,"price":320.0,"sellingPoints":["south facing"],"remarks":"corner unit"}}`

	body := payload
	store, _ := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))

	if err := store.RefreshProject("p1"); err != nil {
		t.Fatalf("RefreshProject: %v", err)
	}
	p := store.Current()
	if p.ID != "p1" || p.Title != "Lakeside 2BR" {
		t.Fatalf("unexpected project: %+v", p)
	}
	if p.Info.Community != "Lakeside" || p.Info.Room != 3 || p.Info.Area != 98.5 {
		t.Fatalf("house info not mapped: %+v", p.Info)
	}
	if p.Script != "old script" {
		t.Fatalf("script = %q", p.Script)
	}
	if p.ErrorLog != "ffmpeg exited 1" || p.ErrorStep != "render" {
		t.Fatalf("error fields not set: %+v", p)
	}

	// The retry cleared the failure server-side; a project refresh must
	// reset every error field, absent means empty here.
	body = clean
	if err := store.RefreshProject("p1"); err != nil {
		t.Fatalf("RefreshProject: %v", err)
	}
	p = store.Current()
	if p.Status != domain.StatusRendering {
		t.Fatalf("status = %q", p.Status)
	}
	if p.ErrorLog != "" || p.ErrorTaskID != "" || p.ErrorRequestID != "" || p.ErrorStep != "" || p.ErrorAt != nil {
		t.Fatalf("error fields survived clean refresh: %+v", p)
	}
}

func TestRefreshProjectDefaultsSellingPoints(t *testing.T) {
	store, _ := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"p1","title":"t","status":"DRAFT","houseInfo":{"community":"X"}}`))
	}))
	if err := store.RefreshProject("p1"); err != nil {
		t.Fatalf("RefreshProject: %v", err)
	}
	p := store.Current()
	if p.Info.SellingPoints == nil || len(p.Info.SellingPoints) != 0 {
		t.Fatalf("sellingPoints = %#v, want empty non-nil slice", p.Info.SellingPoints)
	}
	if p.Assets == nil {
		t.Fatalf("assets = %#v, want empty non-nil slice", p.Assets)
	}
}

func TestRefreshTimelineSortsAndRewrites(t *testing.T) {
	store, _ := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"projectId":"p1","status":"REVIEW","assets":[
			{"id":"a2","ossUrl":"http://ai-scene-backend:8090/public/two.mp4","sceneLabel":"卧室","duration":4.5,"sortOrder":2},
			{"id":"a0","ossUrl":"http://ai-scene-backend:8090/public/zero.mp4","sceneLabel":"客厅","userLabel":"客厅特写","duration":3.0,"sortOrder":0},
			{"id":"a1","ossUrl":"https://cdn.example.com/one.mp4","sceneLabel":"厨房","sortOrder":1}
		]}`))
	}))
	if err := store.RefreshTimeline("p1"); err != nil {
		t.Fatalf("RefreshTimeline: %v", err)
	}
	p := store.Current()
	if len(p.Assets) != 3 {
		t.Fatalf("got %d assets", len(p.Assets))
	}
	for i, want := range []string{"a0", "a1", "a2"} {
		if p.Assets[i].ID != want {
			t.Fatalf("asset[%d] = %q, want %q", i, p.Assets[i].ID, want)
		}
	}
	origin := store.rewriter.origin
	if got, want := p.Assets[0].URL, origin+"/assets/ai-video/public/zero.mp4"; got != want {
		t.Fatalf("rewritten URL = %q, want %q", got, want)
	}
	if p.Assets[1].URL != "https://cdn.example.com/one.mp4" {
		t.Fatalf("external URL changed: %q", p.Assets[1].URL)
	}
	if p.Assets[0].UserLabel != "客厅特写" {
		t.Fatalf("explicit user label lost: %q", p.Assets[0].UserLabel)
	}
	if p.Assets[2].UserLabel != "卧室" {
		t.Fatalf("user label fallback = %q, want scene label", p.Assets[2].UserLabel)
	}
	if p.Assets[1].Duration != 0 {
		t.Fatalf("missing duration = %v, want 0", p.Assets[1].Duration)
	}
	if p.Status != domain.StatusReview {
		t.Fatalf("status = %q", p.Status)
	}
}

func TestRefreshTimelineKeepsErrorContextWhenAbsent(t *testing.T) {
	type timeline struct{ body string }
	state := &timeline{body: `{"projectId":"p1","status":"FAILED",
		"errorRequestId":"req-7","errorStep":"generate_audio","assets":[]}`}
	store, _ := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(state.body))
	}))

	if err := store.RefreshTimeline("p1"); err != nil {
		t.Fatalf("RefreshTimeline: %v", err)
	}
	p := store.Current()
	if p.ErrorRequestID != "req-7" || p.ErrorStep != "generate_audio" {
		t.Fatalf("error context not set: %+v", p)
	}

	// A later poll without the fields must not clobber what we know.
	state.body = `{"projectId":"p1","assets":[]}`
	if err := store.RefreshTimeline("p1"); err != nil {
		t.Fatalf("RefreshTimeline: %v", err)
	}
	p = store.Current()
	if p.ErrorRequestID != "req-7" || p.ErrorStep != "generate_audio" {
		t.Fatalf("error context lost: %+v", p)
	}
	if p.Status != domain.StatusFailed {
		t.Fatalf("absent status overwrote known status: %q", p.Status)
	}

	// Present-but-empty does clear it.
	state.body = `{"projectId":"p1","errorRequestId":"","errorStep":"","assets":[]}`
	if err := store.RefreshTimeline("p1"); err != nil {
		t.Fatalf("RefreshTimeline: %v", err)
	}
	p = store.Current()
	if p.ErrorRequestID != "" || p.ErrorStep != "" {
		t.Fatalf("empty error context not applied: %+v", p)
	}
}

func TestRefreshFailureLeavesViewIntact(t *testing.T) {
	fail := false
	store, _ := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"boom","code":"internal"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"p1","title":"Lakeside","status":"ANALYZING"}`))
	}))

	if err := store.RefreshProject("p1"); err != nil {
		t.Fatalf("RefreshProject: %v", err)
	}
	before := store.Current()

	fail = true
	if err := store.RefreshProject("p1"); err == nil {
		t.Fatal("expected refresh error")
	}
	after := store.Current()
	if after.ID != before.ID || after.Title != before.Title || after.Status != before.Status {
		t.Fatalf("failed refresh mutated view: before %+v after %+v", before, after)
	}
}

func TestSubscribeNotifiedOnRefresh(t *testing.T) {
	store, _ := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"p1","title":"t","status":"DRAFT"}`))
	}))
	calls := 0
	store.Subscribe(func() { calls++ })
	if err := store.RefreshProject("p1"); err != nil {
		t.Fatalf("RefreshProject: %v", err)
	}
	if calls != 1 {
		t.Fatalf("subscriber ran %d times, want 1", calls)
	}
}
