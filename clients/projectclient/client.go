package projectclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"aiscene/pkg/domain"
)

// defaultUserID is the placeholder identity header value sent until real
// end-user accounts exist.
// TODO: replace with the authenticated user id once end-user login ships.
const defaultUserID = "123"

// Client calls the project service over HTTP on behalf of the end-user
// workflow surface.
type Client struct {
	baseURL    string
	apiKey     string
	userID     string
	httpClient *http.Client
}

// APIError represents a project service error response.
type APIError struct {
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	return e.Message
}

// NewClient constructs a project service client. The api key is attached
// to every request as "Authorization: ApiKey <key>".
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		userID:     defaultUserID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// BaseURL returns the configured service base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CreateProjectRequest starts a new project from listing metadata.
type CreateProjectRequest struct {
	UserID    int64            `json:"userId"`
	Title     string           `json:"title"`
	HouseInfo domain.HouseInfo `json:"houseInfo"`
}

// ConfirmAssetRequest registers an object uploaded through a presigned URL.
type ConfirmAssetRequest struct {
	ObjectKey   string `json:"objectKey"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// UpdateAssetRequest edits the user label and/or position of an asset.
// Nil fields are left unchanged.
type UpdateAssetRequest struct {
	UserLabel *string `json:"userLabel,omitempty"`
	SortOrder *int    `json:"sortOrder,omitempty"`
}

// TimelineResponse is the ordered asset view plus pipeline context.
// Error-context fields are pointers so a fresh fetch can tell "absent"
// apart from "present but empty".
type TimelineResponse struct {
	ProjectID      string               `json:"projectId"`
	ProjectTitle   string               `json:"projectTitle"`
	Status         domain.ProjectStatus `json:"status,omitempty"`
	ErrorRequestID *string              `json:"errorRequestId,omitempty"`
	ErrorStep      *string              `json:"errorStep,omitempty"`
	Assets         []domain.Asset       `json:"assets"`
	ScriptContent  json.RawMessage      `json:"scriptContent,omitempty"`
}

// ScriptTaskResponse acknowledges a script-generation request.
type ScriptTaskResponse struct {
	ProjectID     string               `json:"projectId"`
	TaskID        string               `json:"taskId"`
	Status        domain.ProjectStatus `json:"status"`
	ScriptContent json.RawMessage      `json:"scriptContent,omitempty"`
}

func (c *Client) CreateProject(req CreateProjectRequest) (domain.Project, error) {
	var project domain.Project
	if err := c.doJSON(http.MethodPost, "/v1/projects", req, &project); err != nil {
		return domain.Project{}, err
	}
	return project, nil
}

func (c *Client) GetProject(id string) (domain.Project, error) {
	var project domain.Project
	if err := c.doJSON(http.MethodGet, "/v1/projects/"+id, nil, &project); err != nil {
		return domain.Project{}, err
	}
	return project, nil
}

func (c *Client) ListProjects(page, size int) (domain.ProjectPage, error) {
	path := fmt.Sprintf("/v1/projects?page=%d&size=%d", page, size)
	var result domain.ProjectPage
	if err := c.doJSON(http.MethodGet, path, nil, &result); err != nil {
		return domain.ProjectPage{}, err
	}
	return result, nil
}

// PresignAsset asks the service for a direct-upload target.
func (c *Client) PresignAsset(projectID, filename, contentType string) (domain.PresignedUpload, error) {
	path := fmt.Sprintf("/v1/projects/%s/assets/presign?filename=%s&contentType=%s",
		projectID, url.QueryEscape(filename), url.QueryEscape(contentType))
	var presigned domain.PresignedUpload
	if err := c.doJSON(http.MethodPost, path, nil, &presigned); err != nil {
		return domain.PresignedUpload{}, err
	}
	return presigned, nil
}

// ConfirmAsset registers a presign-uploaded object as a project asset.
func (c *Client) ConfirmAsset(projectID string, req ConfirmAssetRequest) (domain.Asset, error) {
	path := fmt.Sprintf("/v1/projects/%s/assets/confirm", projectID)
	var asset domain.Asset
	if err := c.doJSON(http.MethodPost, path, req, &asset); err != nil {
		return domain.Asset{}, err
	}
	return asset, nil
}

// UploadAsset streams a clip through the service as multipart form data.
func (c *Client) UploadAsset(projectID, filename string, r io.Reader) (domain.Asset, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return domain.Asset{}, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return domain.Asset{}, err
	}
	if err := writer.Close(); err != nil {
		return domain.Asset{}, err
	}

	path := fmt.Sprintf("%s/v1/projects/%s/assets", c.baseURL, projectID)
	req, err := http.NewRequest(http.MethodPost, path, body)
	if err != nil {
		return domain.Asset{}, err
	}
	c.addAuthHeaders(req)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var asset domain.Asset
	if err := c.do(req, &asset); err != nil {
		return domain.Asset{}, err
	}
	return asset, nil
}

func (c *Client) UpdateAsset(projectID, assetID string, req UpdateAssetRequest) (domain.Asset, error) {
	path := fmt.Sprintf("/v1/projects/%s/assets/%s", projectID, assetID)
	var asset domain.Asset
	if err := c.doJSON(http.MethodPut, path, req, &asset); err != nil {
		return domain.Asset{}, err
	}
	return asset, nil
}

func (c *Client) GetTimeline(projectID string) (TimelineResponse, error) {
	path := fmt.Sprintf("/v1/projects/%s/timeline", projectID)
	var timeline TimelineResponse
	if err := c.doJSON(http.MethodGet, path, nil, &timeline); err != nil {
		return TimelineResponse{}, err
	}
	return timeline, nil
}

func (c *Client) GenerateScript(projectID string) (ScriptTaskResponse, error) {
	path := fmt.Sprintf("/v1/projects/%s/script", projectID)
	var resp ScriptTaskResponse
	if err := c.doJSON(http.MethodPost, path, nil, &resp); err != nil {
		return ScriptTaskResponse{}, err
	}
	return resp, nil
}

// UpdateScript replaces the stored script with user edits. The body is the
// canonical JSON text of the script, sent as text/plain.
func (c *Client) UpdateScript(projectID, scriptContent string) error {
	path := fmt.Sprintf("/v1/projects/%s/script", projectID)
	return c.doText(http.MethodPut, path, scriptContent)
}

// GenerateAudio starts narration synthesis. The body is the canonical JSON
// text of the script, sent as text/plain.
func (c *Client) GenerateAudio(projectID, scriptContent string) error {
	path := fmt.Sprintf("/v1/projects/%s/audio", projectID)
	return c.doText(http.MethodPost, path, scriptContent)
}

func (c *Client) RenderVideo(projectID string) error {
	path := fmt.Sprintf("/v1/projects/%s/render", projectID)
	return c.doJSON(http.MethodPost, path, nil, nil)
}

func (c *Client) doJSON(method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	c.addAuthHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) doText(method, path, text string) error {
	req, err := http.NewRequest(method, c.baseURL+path, strings.NewReader(text))
	if err != nil {
		return err
	}
	c.addAuthHeaders(req)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg, Code: strings.TrimSpace(errResp.Code)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return err
	}
	return nil
}

func (c *Client) addAuthHeaders(req *http.Request) {
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("Authorization", "ApiKey "+c.apiKey)
	}
	req.Header.Set("X-User-Id", c.userID)
}
