// Package e2b implements sandbox.Client against the E2B cloud REST API.
//
// Every operation is one HTTP call to the API base with a bearer credential
// resolved per call, so a rotated E2B_API_KEY takes effect without
// rebuilding the client.
package e2b

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/zerobuild/zerobuild/pkg/sandbox"
)

// DefaultAPIBase is the E2B REST API endpoint.
const DefaultAPIBase = "https://api.e2b.dev"

// defaultHTTPTimeout bounds a single API call independent of any
// per-operation deadline.
const defaultHTTPTimeout = 120 * time.Second

// Config configures an E2B client.
type Config struct {
	// APIKey authenticates API calls. The E2B_API_KEY environment
	// variable, when set, overrides it on every call.
	APIKey string

	// APIBase overrides the API endpoint (default DefaultAPIBase).
	APIBase string

	// Logger receives soft failures (teardown, snapshot walk). Defaults
	// to log.Default().
	Logger *log.Logger
}

// Client talks to the E2B cloud sandbox API. It satisfies sandbox.Client.
type Client struct {
	sandbox.State

	apiKey  string
	apiBase string
	httpc   *http.Client
	logger  *log.Logger
}

// New creates an E2B client. It performs no network I/O.
func New(cfg Config) *Client {
	base := cfg.APIBase
	if base == "" {
		base = DefaultAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		apiKey:  cfg.APIKey,
		apiBase: strings.TrimRight(base, "/"),
		httpc:   &http.Client{Timeout: defaultHTTPTimeout},
		logger:  logger,
	}
}

// effectiveKey resolves the credential per call so key rotation works
// without rebuilding the client.
func (c *Client) effectiveKey() string {
	if k := os.Getenv("E2B_API_KEY"); k != "" {
		return k
	}
	return c.apiKey
}

// do performs one API call and returns the status and raw body. Transport
// failures are wrapped with the operation name; status handling is the
// caller's.
func (c *Client) do(ctx context.Context, op, method, p string, body any) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("%s: encoding request: %w", op, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+p, rd)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: building request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.effectiveKey())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: request failed: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%s: reading response: %w", op, err)
	}
	return resp.StatusCode, data, nil
}

func filesPath(id, filePath string) string {
	return fmt.Sprintf("/v0/sandboxes/%s/files?path=%s", id, url.QueryEscape(filePath))
}

// CreateSandbox provisions a MicroVM from template, passing timeout as the
// sandbox's own lifetime hint in seconds. With reset=false an existing
// handle is reused without an API call.
func (c *Client) CreateSandbox(ctx context.Context, reset bool, template string, timeout time.Duration) (string, error) {
	if !reset {
		if id, ok := c.CurrentID(); ok {
			return id, nil
		}
	}

	if c.effectiveKey() == "" {
		return "", fmt.Errorf("create sandbox: E2B API key is not set")
	}

	// Best-effort teardown of the previous sandbox on reset. KillSandbox
	// logs remote failures and clears identity regardless.
	if _, ok := c.CurrentID(); ok {
		_, _ = c.KillSandbox(ctx)
	}

	body := map[string]any{
		"templateID": template,
		"timeout":    int(timeout / time.Second),
	}
	status, data, err := c.do(ctx, "create sandbox", http.MethodPost, "/v0/sandboxes", body)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", &sandbox.APIError{Op: "create sandbox", Status: status, Body: string(data)}
	}

	var parsed struct {
		SandboxID    string `json:"sandboxID"`
		SandboxIDAlt string `json:"sandbox_id"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("create sandbox: parsing response: %w (body: %s)", err, data)
	}

	id := parsed.SandboxID
	if id == "" {
		id = parsed.SandboxIDAlt
	}
	if id == "" {
		return "", fmt.Errorf("create sandbox: response carries no sandbox ID (body: %s)", data)
	}

	c.SetIdentity(id, nil)
	return id, nil
}

// KillSandbox deletes the active sandbox. Local identity is cleared even
// when the remote teardown fails; the failure is logged, not escalated.
func (c *Client) KillSandbox(ctx context.Context) (string, error) {
	id, ok := c.CurrentID()
	if !ok {
		return "No active sandbox to kill.", nil
	}
	defer c.ClearID()

	status, data, err := c.do(ctx, "kill sandbox", http.MethodDelete, "/v0/sandboxes/"+id, nil)
	if err != nil {
		c.logger.Printf("e2b: teardown of sandbox %s failed: %v", id, err)
		return fmt.Sprintf("Sandbox %s released; remote teardown failed (logged).", id), nil
	}
	if status >= 300 && status != http.StatusNotFound {
		c.logger.Printf("e2b: teardown of sandbox %s returned %d: %s", id, status, data)
		return fmt.Sprintf("Sandbox %s released; remote teardown failed (logged).", id), nil
	}
	return fmt.Sprintf("Sandbox %s terminated.", id), nil
}

// RunCommand executes a shell command via the commands endpoint. The
// client-side timeout is enforced here, independent of the provider's.
func (c *Client) RunCommand(ctx context.Context, command, workdir string, timeout time.Duration) (*sandbox.CommandResult, error) {
	id, err := c.RequireID()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body := map[string]any{
		"cmd":     command,
		"workdir": workdir,
		"timeout": int(timeout / time.Second),
	}
	status, data, err := c.do(ctx, "run command", http.MethodPost, "/v0/sandboxes/"+id+"/commands", body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &sandbox.TimeoutError{After: timeout}
		}
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("run command: sandbox %s: %w", id, sandbox.ErrNotFound)
	}
	if status < 200 || status >= 300 {
		return nil, &sandbox.APIError{Op: "run command", Status: status, Body: string(data)}
	}

	var parsed struct {
		Stdout      string `json:"stdout"`
		Stderr      string `json:"stderr"`
		ExitCode    *int   `json:"exitCode"`
		ExitCodeAlt *int   `json:"exit_code"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("run command: parsing response: %w (body: %s)", err, data)
	}

	exit := 0
	switch {
	case parsed.ExitCode != nil:
		exit = *parsed.ExitCode
	case parsed.ExitCodeAlt != nil:
		exit = *parsed.ExitCodeAlt
	}
	return &sandbox.CommandResult{Stdout: parsed.Stdout, Stderr: parsed.Stderr, ExitCode: exit}, nil
}

// WriteFile uploads content as a multipart payload, one request per file.
// The files endpoint creates parent directories and writes atomically.
func (c *Client) WriteFile(ctx context.Context, filePath, content string) error {
	id, err := c.RequireID()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("path", filePath); err != nil {
		return fmt.Errorf("write file: building form: %w", err)
	}
	part, err := form.CreateFormFile("file", path.Base(filePath))
	if err != nil {
		return fmt.Errorf("write file: building form: %w", err)
	}
	if _, err := io.WriteString(part, content); err != nil {
		return fmt.Errorf("write file: building form: %w", err)
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("write file: building form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/v0/sandboxes/"+id+"/files", &buf)
	if err != nil {
		return fmt.Errorf("write file: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.effectiveKey())
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("write file: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return &sandbox.APIError{Op: "write file", Status: resp.StatusCode, Body: string(data)}
	}
	return nil
}

// ReadFile fetches a file's content. A 404 reports sandbox.ErrNotFound,
// distinct from transport or protocol failures.
func (c *Client) ReadFile(ctx context.Context, filePath string) (string, error) {
	id, err := c.RequireID()
	if err != nil {
		return "", err
	}

	status, data, err := c.do(ctx, "read file", http.MethodGet, filesPath(id, filePath), nil)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		return "", fmt.Errorf("read file: %s: %w", filePath, sandbox.ErrNotFound)
	}
	if status < 200 || status >= 300 {
		return "", &sandbox.APIError{Op: "read file", Status: status, Body: string(data)}
	}
	return string(data), nil
}

// ListFiles returns a human-readable listing of a directory.
func (c *Client) ListFiles(ctx context.Context, dirPath string) (string, error) {
	id, err := c.RequireID()
	if err != nil {
		return "", err
	}

	status, data, err := c.do(ctx, "list files", http.MethodGet, filesPath(id, dirPath), nil)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		return "", fmt.Errorf("list files: %s: %w", dirPath, sandbox.ErrNotFound)
	}
	if status < 200 || status >= 300 {
		return "", &sandbox.APIError{Op: "list files", Status: status, Body: string(data)}
	}

	var entries []fileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		// Not a JSON listing; hand back whatever the provider sent.
		return string(data), nil
	}

	lines := []string{fmt.Sprintf("Files in %s:", dirPath)}
	for _, e := range entries {
		name := e.Name
		if name == "" {
			name = "<unnamed>"
		}
		lines = append(lines, fmt.Sprintf("  [%s] %s", e.kind(), name))
	}
	return strings.Join(lines, "\n"), nil
}

// PreviewURL resolves the public URL for a sandbox port, prefixing a scheme
// when the provider returns a bare host.
func (c *Client) PreviewURL(ctx context.Context, port int) (string, error) {
	id, err := c.RequireID()
	if err != nil {
		return "", err
	}

	status, data, err := c.do(ctx, "preview url", http.MethodGet, fmt.Sprintf("/v0/sandboxes/%s/hosts/%d", id, port), nil)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		return "", fmt.Errorf("preview url: sandbox %s port %d: %w", id, port, sandbox.ErrNotFound)
	}
	if status < 200 || status >= 300 {
		return "", &sandbox.APIError{Op: "preview url", Status: status, Body: string(data)}
	}

	var parsed struct {
		URL  string `json:"url"`
		Host string `json:"host"`
	}
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if err := json.Unmarshal(data, &parsed); err == nil {
		if parsed.URL != "" {
			raw = parsed.URL
		} else if parsed.Host != "" {
			raw = parsed.Host
		}
	}
	if raw == "" {
		return "", fmt.Errorf("preview url: empty response for port %d", port)
	}
	if !strings.HasPrefix(raw, "http") {
		raw = "https://" + raw
	}
	return raw, nil
}

// CollectSnapshotFiles walks workdir with an explicit directory stack:
// list, classify, push non-skip-listed directories, fetch files one by
// one. A failed list or fetch skips that entry; partial success is the
// policy.
func (c *Client) CollectSnapshotFiles(ctx context.Context, workdir string) (map[string]string, error) {
	id, err := c.RequireID()
	if err != nil {
		return nil, err
	}

	files := make(map[string]string)
	stack := []string{workdir}

	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		status, data, err := c.do(ctx, "snapshot list", http.MethodGet, filesPath(id, dir), nil)
		if err != nil || status < 200 || status >= 300 {
			c.logger.Printf("e2b: snapshot: skipping unlistable dir %s (status %d, err %v)", dir, status, err)
			continue
		}

		var entries []fileEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			c.logger.Printf("e2b: snapshot: skipping unparsable listing for %s: %v", dir, err)
			continue
		}

		for _, e := range entries {
			if e.Name == "" || sandbox.SkipDir(e.Name) {
				continue
			}
			full := dir + "/" + e.Name

			if e.isDir() {
				stack = append(stack, full)
				continue
			}

			status, data, err := c.do(ctx, "snapshot fetch", http.MethodGet, filesPath(id, full), nil)
			if err != nil || status < 200 || status >= 300 {
				c.logger.Printf("e2b: snapshot: skipping unreadable file %s (status %d, err %v)", full, status, err)
				continue
			}
			files[full] = string(data)
		}
	}

	return files, nil
}

// fileEntry is one entry in an E2B directory listing.
type fileEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func (e fileEntry) isDir() bool {
	return e.Type == "dir" || e.Type == "directory"
}

func (e fileEntry) kind() string {
	if e.Type == "" {
		return "file"
	}
	return e.Type
}
