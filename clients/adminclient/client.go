package adminclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"aiscene/pkg/domain"
)

// Notifier receives the user-visible message for a failed request. The
// monitoring UI wires this to its toast component; tests use a recorder.
type Notifier interface {
	Notify(message string)
}

// NotifierFunc adapts a plain function to Notifier.
type NotifierFunc func(message string)

func (f NotifierFunc) Notify(message string) { f(message) }

// Client calls the admin service with a persisted bearer token. Every
// error status is mapped to one user-facing message here so callers never
// translate statuses themselves; a 401 additionally clears the stored
// credentials and fires the unauthorized hook.
type Client struct {
	baseURL        string
	creds          CredentialStore
	notifier       Notifier
	onUnauthorized func()
	httpClient     *http.Client
}

// APIError represents an admin service error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("admin api error: status=%d message=%s", e.Status, e.Message)
}

func NewClient(baseURL string, creds CredentialStore) *Client {
	return &Client{
		baseURL: baseURL,
		creds:   creds,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetNotifier installs the user-notification sink. Without one, messages
// are dropped and only the returned error carries context.
func (c *Client) SetNotifier(n Notifier) {
	c.notifier = n
}

// OnUnauthorized installs the hook run after a 401 clears the stored
// credentials, typically a navigation to the login route.
func (c *Client) OnUnauthorized(fn func()) {
	c.onUnauthorized = fn
}

// LoginRequest carries operator credentials.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the token plus a user summary for the header bar.
type LoginResponse struct {
	Token       string           `json:"token"`
	Username    string           `json:"username"`
	DisplayName string           `json:"displayName"`
	Role        domain.AdminRole `json:"role"`
	ExpiresAt   time.Time        `json:"expiresAt"`
}

// CreateUserRequest provisions a new operator account.
type CreateUserRequest struct {
	Username    string           `json:"username"`
	Password    string           `json:"password"`
	DisplayName string           `json:"displayName"`
	Email       string           `json:"email,omitempty"`
	Role        domain.AdminRole `json:"role"`
}

// UserPage is the paged operator-account envelope.
type UserPage struct {
	Content       []domain.AdminUser `json:"content"`
	TotalElements int64              `json:"totalElements"`
	TotalPages    int                `json:"totalPages"`
	Number        int                `json:"number"`
	Size          int                `json:"size"`
}

// ProjectDetail is the full project record with its assets and step
// history, as shown on the admin detail page.
type ProjectDetail struct {
	domain.Project
	Assets   []domain.Asset            `json:"assets"`
	Timeline domain.ProcessingTimeline `json:"timeline"`
}

// ListProjectsQuery filters the admin project list. Nil fields are omitted.
type ListProjectsQuery struct {
	Page   int
	Size   int
	Status *domain.ProjectStatus
	UserID *int64
}

// Login authenticates and persists the token plus a user summary, so the
// session survives a reload.
func (c *Client) Login(req LoginRequest) (LoginResponse, error) {
	var resp LoginResponse
	if err := c.do(http.MethodPost, "/admin/auth/login", req, &resp); err != nil {
		return LoginResponse{}, err
	}
	err := c.creds.Save(Credentials{
		Token: resp.Token,
		User: domain.AdminUser{
			Username:    resp.Username,
			DisplayName: resp.DisplayName,
			Role:        resp.Role,
			IsEnabled:   true,
		},
	})
	if err != nil {
		return LoginResponse{}, fmt.Errorf("persist credentials: %w", err)
	}
	return resp, nil
}

// Me fetches the current operator and refreshes the persisted summary.
func (c *Client) Me() (domain.AdminUser, error) {
	var user domain.AdminUser
	if err := c.do(http.MethodGet, "/admin/auth/me", nil, &user); err != nil {
		return domain.AdminUser{}, err
	}
	if creds, ok := c.creds.Load(); ok {
		creds.User = user
		if err := c.creds.Save(creds); err != nil {
			return domain.AdminUser{}, fmt.Errorf("persist credentials: %w", err)
		}
	}
	return user, nil
}

// Logout discards the stored session.
func (c *Client) Logout() {
	c.creds.Clear()
}

func (c *Client) ListUsers(page, size int) (UserPage, error) {
	path := fmt.Sprintf("/admin/users?page=%d&size=%d", page, size)
	var users UserPage
	if err := c.do(http.MethodGet, path, nil, &users); err != nil {
		return UserPage{}, err
	}
	return users, nil
}

func (c *Client) GetUser(id string) (domain.AdminUser, error) {
	var user domain.AdminUser
	if err := c.do(http.MethodGet, "/admin/users/"+url.PathEscape(id), nil, &user); err != nil {
		return domain.AdminUser{}, err
	}
	return user, nil
}

func (c *Client) CreateUser(req CreateUserRequest) (domain.AdminUser, error) {
	var user domain.AdminUser
	if err := c.do(http.MethodPost, "/admin/users", req, &user); err != nil {
		return domain.AdminUser{}, err
	}
	return user, nil
}

// UpdateUserStatus enables or disables an operator account.
func (c *Client) UpdateUserStatus(id string, enabled bool) (domain.AdminUser, error) {
	path := fmt.Sprintf("/admin/users/%s/status?enabled=%t", url.PathEscape(id), enabled)
	var user domain.AdminUser
	if err := c.do(http.MethodPut, path, nil, &user); err != nil {
		return domain.AdminUser{}, err
	}
	return user, nil
}

func (c *Client) DeleteUser(id string) error {
	return c.do(http.MethodDelete, "/admin/users/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Stats() (domain.DashboardStats, error) {
	var stats domain.DashboardStats
	if err := c.do(http.MethodGet, "/admin/projects/stats", nil, &stats); err != nil {
		return domain.DashboardStats{}, err
	}
	return stats, nil
}

func (c *Client) ListProjects(q ListProjectsQuery) (domain.ProjectPage, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("size", strconv.Itoa(q.Size))
	if q.Status != nil {
		params.Set("status", string(*q.Status))
	}
	if q.UserID != nil {
		params.Set("userId", strconv.FormatInt(*q.UserID, 10))
	}
	var page domain.ProjectPage
	if err := c.do(http.MethodGet, "/admin/projects?"+params.Encode(), nil, &page); err != nil {
		return domain.ProjectPage{}, err
	}
	return page, nil
}

func (c *Client) GetProjectDetail(id string) (ProjectDetail, error) {
	var detail ProjectDetail
	if err := c.do(http.MethodGet, "/admin/projects/"+url.PathEscape(id), nil, &detail); err != nil {
		return ProjectDetail{}, err
	}
	return detail, nil
}

func (c *Client) SystemHealth() (domain.SystemHealth, error) {
	var health domain.SystemHealth
	if err := c.do(http.MethodGet, "/admin/system/health", nil, &health); err != nil {
		return domain.SystemHealth{}, err
	}
	return health, nil
}

func (c *Client) ListModels() ([]domain.AIModel, error) {
	var models []domain.AIModel
	if err := c.do(http.MethodGet, "/admin/models", nil, &models); err != nil {
		return nil, err
	}
	return models, nil
}

func (c *Client) GetModel(id string) (domain.AIModel, error) {
	var model domain.AIModel
	if err := c.do(http.MethodGet, "/admin/models/"+url.PathEscape(id), nil, &model); err != nil {
		return domain.AIModel{}, err
	}
	return model, nil
}

// TestModel probes the model's upstream and returns the refreshed record.
func (c *Client) TestModel(id string) (domain.AIModel, error) {
	path := fmt.Sprintf("/admin/models/%s/test", url.PathEscape(id))
	var model domain.AIModel
	if err := c.do(http.MethodPost, path, nil, &model); err != nil {
		return domain.AIModel{}, err
	}
	return model, nil
}

func (c *Client) do(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if creds, ok := c.creds.Load(); ok && creds.Token != "" {
		req.Header.Set("Authorization", "Bearer "+creds.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.notify("网络连接失败，请检查网络")
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) handleError(resp *http.Response) error {
	var errResp struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	_ = json.Unmarshal(data, &errResp)
	msg := errResp.Message
	if msg == "" {
		msg = errResp.Error
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		c.creds.Clear()
		c.notify("登录已过期，请重新登录")
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
	case http.StatusForbidden:
		c.notify("无权限访问")
	case http.StatusNotFound:
		c.notify("请求的资源不存在")
	case http.StatusInternalServerError:
		if msg == "" {
			msg = "服务器内部错误"
		}
		c.notify(msg)
	default:
		if msg == "" {
			msg = "请求失败"
		}
		c.notify(msg)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

func (c *Client) notify(msg string) {
	if c.notifier != nil {
		c.notifier.Notify(msg)
	}
}
