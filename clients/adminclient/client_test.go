package adminclient

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"aiscene/pkg/domain"
)

func TestLoginPersistsCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/auth/login" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token":"tok-1","username":"ops","displayName":"Ops","role":"ADMIN","expiresAt":"2026-09-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	store := NewMemoryCredentialStore()
	client := NewClient(srv.URL, store)

	resp, err := client.Login(LoginRequest{Username: "ops", Password: "secret"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.Token != "tok-1" || resp.Role != domain.RoleAdmin {
		t.Fatalf("unexpected response: %+v", resp)
	}
	creds, ok := store.Load()
	if !ok || creds.Token != "tok-1" || creds.User.Username != "ops" {
		t.Fatalf("credentials not persisted: %+v ok=%v", creds, ok)
	}
}

func TestBearerHeaderAttached(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"totalProjects":5,"todayCreated":1,"todayCompleted":1,"todayFailed":0,"processingCount":2,"healthyModelCount":3,"unhealthyModelCount":0}`))
	}))
	defer srv.Close()

	store := NewMemoryCredentialStore()
	store.Save(Credentials{Token: "tok-2"})
	client := NewClient(srv.URL, store)

	stats, err := client.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if gotAuth != "Bearer tok-2" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if stats.TotalProjects != 5 || stats.ProcessingCount != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestUnauthorizedClearsCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store := NewMemoryCredentialStore()
	store.Save(Credentials{Token: "stale"})
	client := NewClient(srv.URL, store)

	var messages []string
	client.SetNotifier(NotifierFunc(func(m string) { messages = append(messages, m) }))
	redirected := false
	client.OnUnauthorized(func() { redirected = true })

	_, err := client.Stats()
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := store.Load(); ok {
		t.Fatal("credentials not cleared on 401")
	}
	if !redirected {
		t.Fatal("unauthorized hook not fired")
	}
	if len(messages) != 1 || messages[0] != "登录已过期，请重新登录" {
		t.Fatalf("messages = %v", messages)
	}
}

func TestStatusMessageMapping(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   string
	}{
		{http.StatusForbidden, "", "无权限访问"},
		{http.StatusNotFound, "", "请求的资源不存在"},
		{http.StatusInternalServerError, "", "服务器内部错误"},
		{http.StatusInternalServerError, `{"message":"db unavailable"}`, "db unavailable"},
		{http.StatusConflict, `{"message":"duplicate username"}`, "duplicate username"},
		{http.StatusConflict, "", "请求失败"},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tc.status)
			w.Write([]byte(tc.body))
		}))

		client := NewClient(srv.URL, NewMemoryCredentialStore())
		var got string
		client.SetNotifier(NotifierFunc(func(m string) { got = m }))

		_, err := client.SystemHealth()
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		apiErr, ok := err.(*APIError)
		if !ok || apiErr.Status != tc.status {
			t.Fatalf("status %d: err = %v", tc.status, err)
		}
		if got != tc.want {
			t.Fatalf("status %d: message %q, want %q", tc.status, got, tc.want)
		}
	}
}

func TestListProjectsQueryParams(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":[],"totalElements":0,"totalPages":0,"number":0,"size":10}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, NewMemoryCredentialStore())
	status := domain.StatusFailed
	userID := int64(42)
	if _, err := client.ListProjects(ListProjectsQuery{Page: 1, Size: 10, Status: &status, UserID: &userID}); err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	want := "page=1&size=10&status=FAILED&userId=42"
	if gotQuery != want {
		t.Fatalf("query = %q, want %q", gotQuery, want)
	}
}

func TestProjectDetailDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id":"p1","userId":123,"title":"Lakeside","status":"FAILED",
			"errorStep":"render","errorLog":"ffmpeg exited 1",
			"createdAt":"2026-08-01T10:00:00Z",
			"assets":[{"id":"a1","projectId":"p1","ossUrl":"u","duration":3,"sortOrder":0}],
			"timeline":{"nodes":[
				{"step":"analyze","status":"SUCCESS"},
				{"step":"generate_script","status":"SUCCESS"},
				{"step":"render","status":"FAILED","errorMessage":"ffmpeg exited 1"}
			]}
		}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, NewMemoryCredentialStore())
	detail, err := client.GetProjectDetail("p1")
	if err != nil {
		t.Fatalf("GetProjectDetail: %v", err)
	}
	if detail.ID != "p1" || detail.Status != domain.StatusFailed {
		t.Fatalf("unexpected detail: %+v", detail.Project)
	}
	if len(detail.Assets) != 1 || detail.Assets[0].ID != "a1" {
		t.Fatalf("assets = %+v", detail.Assets)
	}
	nodes := detail.Timeline.Nodes
	if len(nodes) != 3 || nodes[2].Status != domain.StepFailed || nodes[2].ErrorMessage == "" {
		t.Fatalf("timeline = %+v", nodes)
	}
}

func TestFileCredentialStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewFileCredentialStore(path)

	if err := store.Save(Credentials{Token: "tok", User: domain.AdminUser{Username: "ops"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	creds, ok := store.Load()
	if !ok || creds.Token != "tok" || creds.User.Username != "ops" {
		t.Fatalf("round trip: %+v ok=%v", creds, ok)
	}

	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	if _, ok := store.Load(); ok {
		t.Fatal("corrupt file should read as logged out")
	}
	// The corrupt file is discarded, not retried.
	if _, ok := store.Load(); ok {
		t.Fatal("corrupt file survived")
	}
}
