package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// JobSpec — описание job внутри flow.
type JobSpec struct {
	Name      string            `json:"name" yaml:"name"`
	DependsOn []string          `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Config    map[string]string `json:"config,omitempty" yaml:"config,omitempty"`
}

// FlowResponse — flow из API.
type FlowResponse struct {
	ID        string            `json:"id"`
	Group     string            `json:"group"`
	Name      string            `json:"name"`
	CronExpr  string            `json:"cron_expr,omitempty"`
	Timezone  string            `json:"timezone"`
	Enabled   bool              `json:"enabled"`
	Jobs      []JobSpec         `json:"jobs"`
	Props     map[string]string `json:"props,omitempty"`
	CreatedAt string            `json:"created_at"`
	UpdatedAt string            `json:"updated_at"`
}

// LaunchResponse — исход арбитража ручного запуска.
type LaunchResponse struct {
	Status          string `json:"status"`
	DagID           string `json:"dag_id"`
	EventTimeMillis int64  `json:"event_time_millis,omitempty"`
	Owner           string `json:"owner,omitempty"`
	LingerMillis    int64  `json:"linger_millis,omitempty"`
}

// ActionResponse — запись lease из API.
type ActionResponse struct {
	FlowGroup       string `json:"flow_group"`
	FlowName        string `json:"flow_name"`
	FlowExecutionID int64  `json:"flow_execution_id"`
	JobName         string `json:"job_name,omitempty"`
	ActionType      string `json:"action_type"`
	Owner           string `json:"owner"`
	EventTimeMillis int64  `json:"event_time_millis"`
	AcquiredAt      string `json:"acquired_at"`
	ExpiresAt       string `json:"expires_at"`
	CompletedAt     string `json:"completed_at,omitempty"`
	Expired         bool   `json:"expired"`
}

// DagSummary — строка списка DAG.
type DagSummary struct {
	ID        string   `json:"id"`
	Status    string   `json:"status"`
	Owner     string   `json:"owner,omitempty"`
	Jobs      int      `json:"jobs"`
	Ready     []string `json:"ready,omitempty"`
	UpdatedAt string   `json:"updated_at"`
}

// JobPlan — job внутри checkpoint DAG.
type JobPlan struct {
	Name      string   `json:"name"`
	DependsOn []string `json:"depends_on,omitempty"`
	Status    string   `json:"status"`
	Attempt   int      `json:"attempt,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// DagResponse — checkpoint DAG из API.
type DagResponse struct {
	ID struct {
		FlowGroup       string `json:"flow_group"`
		FlowName        string `json:"flow_name"`
		FlowExecutionID int64  `json:"flow_execution_id"`
	} `json:"id"`
	Status    string    `json:"status"`
	Owner     string    `json:"owner,omitempty"`
	Jobs      []JobPlan `json:"jobs"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt string    `json:"updated_at"`
}

// TriggerResponse — триггер инстанса.
type TriggerResponse struct {
	ID         string            `json:"id"`
	CronExpr   string            `json:"cron_expr"`
	NextFireAt string            `json:"next_fire_at"`
	OneShot    bool              `json:"one_shot"`
	Payload    map[string]string `json:"payload,omitempty"`
}

// CronNextResponse — ближайшие срабатывания cron-выражения.
type CronNextResponse struct {
	Expr     string   `json:"expr"`
	Timezone string   `json:"timezone"`
	Next     []string `json:"next"`
}

// --- Request types ---

// FlowRequest — создание или обновление flow.
type FlowRequest struct {
	Group    string            `json:"group" yaml:"group"`
	Name     string            `json:"name" yaml:"name"`
	CronExpr string            `json:"cron_expr,omitempty" yaml:"cron"`
	Timezone string            `json:"timezone,omitempty" yaml:"timezone"`
	Enabled  *bool             `json:"enabled,omitempty" yaml:"enabled"`
	Jobs     []JobSpec         `json:"jobs" yaml:"jobs"`
	Props    map[string]string `json:"props,omitempty" yaml:"props"`
}

// LaunchRequest — ручной запуск flow.
type LaunchRequest struct {
	ExecutionID *int64            `json:"execution_id,omitempty"`
	Props       map[string]string `json:"props,omitempty"`
}

// ActionRef — адрес записи lease.
type ActionRef struct {
	Type            string
	Group           string
	Name            string
	FlowExecutionID int64
	JobName         string
}

func (a ActionRef) path() string {
	p := "/api/v1/actions/" + url.PathEscape(a.Type) + "/" + url.PathEscape(a.Group) + "/" +
		url.PathEscape(a.Name) + "/" + strconv.FormatInt(a.FlowExecutionID, 10)
	if a.JobName != "" {
		p += "?job=" + url.QueryEscape(a.JobName)
	}
	return p
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError — ошибка, которую вернул сервер.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsNotFound сообщает, что сервер ответил 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsConflict сообщает, что сервер ответил 409.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// --- Client ---

// Client — HTTP-клиент для admin API Arbiter.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Flows ---

// ListFlows возвращает все flows.
func (c *Client) ListFlows() ([]FlowResponse, error) {
	var flows []FlowResponse
	err := c.list("/api/v1/flows", nil, &flows)
	return flows, err
}

// CreateFlow создаёт flow.
func (c *Client) CreateFlow(req FlowRequest) (*FlowResponse, error) {
	var flow FlowResponse
	err := c.post("/api/v1/flows", req, &flow)
	return &flow, err
}

// GetFlow возвращает flow по группе и имени.
func (c *Client) GetFlow(group, name string) (*FlowResponse, error) {
	var flow FlowResponse
	err := c.get(flowPath(group, name), &flow)
	return &flow, err
}

// UpdateFlow заменяет расписание, job и props flow.
func (c *Client) UpdateFlow(group, name string, req FlowRequest) (*FlowResponse, error) {
	var flow FlowResponse
	err := c.put(flowPath(group, name), req, &flow)
	return &flow, err
}

// DeleteFlow удаляет flow.
func (c *Client) DeleteFlow(group, name string) error {
	return c.delete(flowPath(group, name))
}

// LaunchFlow запускает flow вручную.
func (c *Client) LaunchFlow(group, name string, req LaunchRequest) (*LaunchResponse, error) {
	var resp LaunchResponse
	err := c.post(flowPath(group, name)+"/launch", req, &resp)
	return &resp, err
}

func flowPath(group, name string) string {
	return "/api/v1/flows/" + url.PathEscape(group) + "/" + url.PathEscape(name)
}

// --- DAGs ---

// ListDags возвращает checkpoint'ы DAG.
func (c *Client) ListDags() ([]DagSummary, error) {
	var dags []DagSummary
	err := c.list("/api/v1/dags", nil, &dags)
	return dags, err
}

// GetDag возвращает checkpoint DAG.
func (c *Client) GetDag(id string) (*DagResponse, error) {
	var dag DagResponse
	err := c.get("/api/v1/dags/"+url.PathEscape(id), &dag)
	return &dag, err
}

// DeleteDag удаляет checkpoint DAG.
func (c *Client) DeleteDag(id string) error {
	return c.delete("/api/v1/dags/" + url.PathEscape(id))
}

// --- Actions ---

// ListActions возвращает записи lease.
func (c *Client) ListActions() ([]ActionResponse, error) {
	var actions []ActionResponse
	err := c.list("/api/v1/actions", nil, &actions)
	return actions, err
}

// GetAction возвращает запись lease.
func (c *Client) GetAction(ref ActionRef) (*ActionResponse, error) {
	var action ActionResponse
	err := c.get(ref.path(), &action)
	return &action, err
}

// DeleteAction удаляет запись lease.
func (c *Client) DeleteAction(ref ActionRef) error {
	return c.delete(ref.path())
}

// --- Triggers ---

// ListTriggers возвращает триггеры инстанса.
func (c *Client) ListTriggers() ([]TriggerResponse, error) {
	var triggers []TriggerResponse
	err := c.list("/api/v1/triggers", nil, &triggers)
	return triggers, err
}

// CronNext возвращает ближайшие срабатывания cron-выражения.
func (c *Client) CronNext(expr, tz string, count int) (*CronNextResponse, error) {
	params := url.Values{}
	params.Set("expr", expr)
	if tz != "" {
		params.Set("tz", tz)
	}
	if count > 0 {
		params.Set("count", strconv.Itoa(count))
	}

	var resp CronNextResponse
	err := c.get("/api/v1/cron/next?"+params.Encode(), &resp)
	return &resp, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
		apiErr.Code = er.Error.Code
		apiErr.Message = er.Error.Message
	}
	return apiErr
}
