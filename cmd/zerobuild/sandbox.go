package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	createReset     bool
	createTemplate  string
	createTimeout   time.Duration
	runWorkdir      string
	runTimeout      time.Duration
	writeFromFile   string
	previewPort     int
	snapshotWorkdir string
	snapshotType    string
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Manage the active sandbox",
}

var sandboxCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Provision a sandbox (reuses the active one unless --reset)",
	RunE:  runSandboxCreate,
}

var sandboxKillCmd = &cobra.Command{
	Use:   "kill",
	Short: "Terminate the active sandbox",
	RunE:  runSandboxKill,
}

var sandboxStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active sandbox and provider",
	RunE:  runSandboxStatus,
}

var sandboxRunCmd = &cobra.Command{
	Use:   "run COMMAND",
	Short: "Execute a shell command in the sandbox",
	Args:  cobra.ExactArgs(1),
	RunE:  runSandboxRun,
}

var sandboxWriteCmd = &cobra.Command{
	Use:   "write PATH",
	Short: "Write a file into the sandbox (content from --file or stdin)",
	Args:  cobra.ExactArgs(1),
	RunE:  runSandboxWrite,
}

var sandboxReadCmd = &cobra.Command{
	Use:   "read PATH",
	Short: "Print a sandbox file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSandboxRead,
}

var sandboxLsCmd = &cobra.Command{
	Use:   "ls [PATH]",
	Short: "List a sandbox directory",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSandboxLs,
}

var sandboxPreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Print the preview URL for the sandbox app port",
	RunE:  runSandboxPreview,
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage workspace snapshots",
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Capture every workspace file into a snapshot",
	RunE:  runSnapshotCreate,
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored snapshots",
	RunE:  runSnapshotList,
}

func init() {
	sandboxCreateCmd.Flags().BoolVar(&createReset, "reset", false, "tear down the active sandbox and provision a fresh one")
	sandboxCreateCmd.Flags().StringVar(&createTemplate, "template", "", "template ID (E2B) or image (Docker)")
	sandboxCreateCmd.Flags().DurationVar(&createTimeout, "timeout", 0, "sandbox lifetime hint (e.g. 10m)")
	sandboxRunCmd.Flags().StringVar(&runWorkdir, "workdir", "", "working directory inside the sandbox")
	sandboxRunCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "per-command execution bound (e.g. 30s)")
	sandboxWriteCmd.Flags().StringVar(&writeFromFile, "file", "", "local file to read content from (default stdin)")
	sandboxPreviewCmd.Flags().IntVar(&previewPort, "port", 0, "sandbox port (default the configured app port)")
	snapshotCreateCmd.Flags().StringVar(&snapshotWorkdir, "workdir", "", "directory to capture (default the configured workdir)")
	snapshotCreateCmd.Flags().StringVar(&snapshotType, "project-type", "", "project type label stored with the snapshot")

	sandboxCmd.AddCommand(sandboxCreateCmd)
	sandboxCmd.AddCommand(sandboxKillCmd)
	sandboxCmd.AddCommand(sandboxStatusCmd)
	sandboxCmd.AddCommand(sandboxRunCmd)
	sandboxCmd.AddCommand(sandboxWriteCmd)
	sandboxCmd.AddCommand(sandboxReadCmd)
	sandboxCmd.AddCommand(sandboxLsCmd)
	sandboxCmd.AddCommand(sandboxPreviewCmd)
	snapshotCmd.AddCommand(snapshotCreateCmd)
	snapshotCmd.AddCommand(snapshotListCmd)
	rootCmd.AddCommand(sandboxCmd)
	rootCmd.AddCommand(snapshotCmd)
}

// ---------------------------------------------------------------------------
// Command implementations
// ---------------------------------------------------------------------------

func runSandboxCreate(cmd *cobra.Command, args []string) error {
	req := map[string]any{"reset": createReset}
	if createTemplate != "" {
		req["template"] = createTemplate
	}
	if createTimeout > 0 {
		req["timeout_ms"] = createTimeout.Milliseconds()
	}

	var resp struct {
		SandboxID string `json:"sandbox_id"`
		Provider  string `json:"provider"`
	}
	if err := apiCall(http.MethodPost, "/api/sandbox", req, &resp); err != nil {
		return err
	}
	fmt.Printf("Sandbox %s ready (%s)\n", resp.SandboxID, resp.Provider)
	return nil
}

func runSandboxKill(cmd *cobra.Command, args []string) error {
	var resp struct {
		Message string `json:"message"`
	}
	if err := apiCall(http.MethodDelete, "/api/sandbox", nil, &resp); err != nil {
		return err
	}
	fmt.Println(resp.Message)
	return nil
}

func runSandboxStatus(cmd *cobra.Command, args []string) error {
	var resp struct {
		Provider  string `json:"provider"`
		SandboxID string `json:"sandbox_id"`
		Active    bool   `json:"active"`
	}
	if err := apiCall(http.MethodGet, "/api/sandbox/status", nil, &resp); err != nil {
		return err
	}
	if !resp.Active {
		fmt.Printf("No active sandbox (provider: %s)\n", resp.Provider)
		return nil
	}
	fmt.Printf("Sandbox %s active (%s)\n", resp.SandboxID, resp.Provider)
	return nil
}

func runSandboxRun(cmd *cobra.Command, args []string) error {
	req := map[string]any{"command": args[0]}
	if runWorkdir != "" {
		req["workdir"] = runWorkdir
	}
	if runTimeout > 0 {
		req["timeout_ms"] = runTimeout.Milliseconds()
	}

	var resp struct {
		Stdout   string `json:"stdout"`
		Stderr   string `json:"stderr"`
		ExitCode int    `json:"exit_code"`
	}
	if err := apiCall(http.MethodPost, "/api/sandbox/commands", req, &resp); err != nil {
		return err
	}
	if resp.Stdout != "" {
		fmt.Print(resp.Stdout)
	}
	if resp.Stderr != "" {
		fmt.Fprint(os.Stderr, resp.Stderr)
	}
	if resp.ExitCode != 0 {
		return fmt.Errorf("command exited with code %d", resp.ExitCode)
	}
	return nil
}

func runSandboxWrite(cmd *cobra.Command, args []string) error {
	var content []byte
	var err error
	if writeFromFile != "" {
		content, err = os.ReadFile(writeFromFile)
	} else {
		content, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("reading content: %w", err)
	}

	req := map[string]string{"path": args[0], "content": string(content)}
	if err := apiCall(http.MethodPut, "/api/sandbox/files", req, nil); err != nil {
		return err
	}
	fmt.Printf("Wrote %s (%d bytes)\n", args[0], len(content))
	return nil
}

func runSandboxRead(cmd *cobra.Command, args []string) error {
	var resp struct {
		Content string `json:"content"`
	}
	path := "/api/sandbox/files?path=" + url.QueryEscape(args[0])
	if err := apiCall(http.MethodGet, path, nil, &resp); err != nil {
		return err
	}
	fmt.Print(resp.Content)
	return nil
}

func runSandboxLs(cmd *cobra.Command, args []string) error {
	path := "/api/sandbox/listing"
	if len(args) > 0 {
		path += "?path=" + url.QueryEscape(args[0])
	}
	var resp struct {
		Listing string `json:"listing"`
	}
	if err := apiCall(http.MethodGet, path, nil, &resp); err != nil {
		return err
	}
	fmt.Println(resp.Listing)
	return nil
}

func runSandboxPreview(cmd *cobra.Command, args []string) error {
	path := "/api/sandbox/preview"
	if previewPort > 0 {
		path += fmt.Sprintf("?port=%d", previewPort)
	}
	var resp struct {
		URL string `json:"url"`
	}
	if err := apiCall(http.MethodGet, path, nil, &resp); err != nil {
		return err
	}
	fmt.Println(resp.URL)
	return nil
}

func runSnapshotCreate(cmd *cobra.Command, args []string) error {
	req := map[string]string{}
	if snapshotWorkdir != "" {
		req["workdir"] = snapshotWorkdir
	}
	if snapshotType != "" {
		req["project_type"] = snapshotType
	}

	var resp struct {
		ID        string `json:"id"`
		FileCount int    `json:"file_count"`
	}
	if err := apiCall(http.MethodPost, "/api/snapshots", req, &resp); err != nil {
		return err
	}
	fmt.Printf("Snapshot %s captured (%d files)\n", resp.ID, resp.FileCount)
	return nil
}

func runSnapshotList(cmd *cobra.Command, args []string) error {
	var snaps []struct {
		ID          string    `json:"id"`
		ProjectType string    `json:"project_type"`
		CreatedAt   time.Time `json:"created_at"`
	}
	if err := apiCall(http.MethodGet, "/api/snapshots", nil, &snaps); err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Println("No snapshots stored.")
		return nil
	}
	for _, s := range snaps {
		label := s.ProjectType
		if label == "" {
			label = "-"
		}
		fmt.Printf("%s  %-10s  %s\n", s.ID, label, s.CreatedAt.Local().Format(time.RFC3339))
	}
	return nil
}

// ---------------------------------------------------------------------------
// API helper
// ---------------------------------------------------------------------------

// apiCall performs one JSON request against the ZeroBuild server and decodes
// the response into out (when non-nil). Error bodies become the returned
// error.
func apiCall(method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, serverURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("is the server running? (%w)", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
