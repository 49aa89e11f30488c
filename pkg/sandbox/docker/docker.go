// Package docker implements sandbox.Client on the local Docker daemon.
//
// No API key is needed; only a reachable Docker socket. The sandbox is a
// long-lived container kept alive with `sleep infinity`, and commands run
// through the exec API. Preview URLs point at localhost and are reachable
// only from the machine running ZeroBuild.
package docker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"path"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"

	"github.com/zerobuild/zerobuild/pkg/sandbox"
)

// DefaultSandboxPort is the container port exposed for preview servers.
const DefaultSandboxPort = 3000

const (
	fileOpTimeout   = 30 * time.Second
	listTimeout     = 10 * time.Second
	snapshotTimeout = 60 * time.Second
)

// Config configures a Docker sandbox client.
type Config struct {
	// Image is the container image used when CreateSandbox gets an empty
	// template.
	Image string

	// SandboxPort is the container port bound to an ephemeral host port
	// (default DefaultSandboxPort).
	SandboxPort int

	// Logger receives soft failures (pull progress, teardown, snapshot
	// walk). Defaults to log.Default().
	Logger *log.Logger
}

// Client runs sandboxes as local Docker containers. It satisfies
// sandbox.Client.
type Client struct {
	sandbox.State

	docker      *client.Client
	image       string
	sandboxPort int
	logger      *log.Logger
}

// New connects to the Docker daemon using the standard environment
// (DOCKER_HOST or the default socket).
func New(cfg Config) (*Client, error) {
	dc, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("connecting to Docker: %w", err)
	}
	port := cfg.SandboxPort
	if port <= 0 {
		port = DefaultSandboxPort
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		docker:      dc,
		image:       cfg.Image,
		sandboxPort: port,
		logger:      logger,
	}, nil
}

// CreateSandbox force-removes any stale container, pulls the image, and
// starts a fresh container with the sandbox port bound to an ephemeral
// host port. template overrides the configured image when non-empty;
// timeout is unused — local containers live until killed.
func (c *Client) CreateSandbox(ctx context.Context, reset bool, template string, _ time.Duration) (string, error) {
	if !reset {
		if id, ok := c.CurrentID(); ok {
			return id, nil
		}
	}

	img := template
	if img == "" {
		img = c.image
	}
	if img == "" {
		return "", fmt.Errorf("create sandbox: no image configured")
	}

	// Remove any leftover container, ignoring errors. The fresh container
	// matters more than a clean teardown.
	if old, ok := c.CurrentID(); ok {
		if err := c.docker.ContainerRemove(ctx, old, container.RemoveOptions{Force: true}); err != nil {
			c.logger.Printf("docker: removing stale container %s: %v", old, err)
		}
	}
	c.ClearID()

	c.pullImage(ctx, img)

	port := nat.Port(fmt.Sprintf("%d/tcp", c.sandboxPort))
	name := "zerobuild-" + uuid.NewString()[:8]

	created, err := c.docker.ContainerCreate(ctx,
		&container.Config{
			Image: img,
			// No terminating entrypoint: the container idles until killed.
			Cmd:          []string{"sleep", "infinity"},
			ExposedPorts: nat.PortSet{port: struct{}{}},
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{
				port: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: "0"}},
			},
		},
		nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("create sandbox: creating container: %w", err)
	}

	if err := c.docker.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("create sandbox: starting container: %w", err)
	}

	// The daemon picked the host port; inspect to learn it. Without the
	// mapping the preview-URL contract cannot be honored.
	info, err := c.docker.ContainerInspect(ctx, created.ID)
	if err != nil {
		return "", fmt.Errorf("create sandbox: inspecting container: %w", err)
	}

	hostPort := 0
	if info.NetworkSettings != nil {
		for _, binding := range info.NetworkSettings.Ports[port] {
			if p, err := strconv.Atoi(binding.HostPort); err == nil && p > 0 {
				hostPort = p
				break
			}
		}
	}
	if hostPort == 0 {
		return "", fmt.Errorf("create sandbox: could not determine mapped host port for container %s", created.ID)
	}

	c.SetIdentity(created.ID, map[int]int{c.sandboxPort: hostPort})
	return created.ID, nil
}

// pullImage drains the pull-progress stream. Individual item errors (layer
// already present, registry hiccups with a local image available) are
// logged and tolerated.
func (c *Client) pullImage(ctx context.Context, img string) {
	rc, err := c.docker.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		c.logger.Printf("docker: pulling %s: %v (continuing with local image)", img, err)
		return
	}
	defer rc.Close()

	dec := json.NewDecoder(rc)
	for {
		var msg struct {
			Error string `json:"error"`
		}
		if err := dec.Decode(&msg); err != nil {
			if err != io.EOF {
				c.logger.Printf("docker: pull stream for %s: %v", img, err)
			}
			return
		}
		if msg.Error != "" {
			c.logger.Printf("docker: pull %s: %s", img, msg.Error)
		}
	}
}

// KillSandbox force-removes the container. Local identity is cleared even
// when removal fails; the failure is logged, not escalated.
func (c *Client) KillSandbox(ctx context.Context) (string, error) {
	id, ok := c.CurrentID()
	if !ok {
		return "No active container to kill.", nil
	}
	defer c.ClearID()

	if err := c.docker.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		c.logger.Printf("docker: removing container %s failed: %v", id, err)
		return fmt.Sprintf("Container %s released; removal failed (logged).", id), nil
	}
	return fmt.Sprintf("Container %s removed.", id), nil
}

// RunCommand executes via the exec API, demuxing the attached stream into
// separate stdout/stderr while racing the caller's timeout. The exit code
// comes from a follow-up exec inspect — the stream does not carry it.
func (c *Client) RunCommand(ctx context.Context, command, workdir string, timeout time.Duration) (*sandbox.CommandResult, error) {
	id, err := c.RequireID()
	if err != nil {
		return nil, err
	}

	execResp, err := c.docker.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          []string{"sh", "-c", command},
		WorkingDir:   workdir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, fmt.Errorf("run command: container %s: %w", id, sandbox.ErrNotFound)
		}
		return nil, fmt.Errorf("run command: creating exec: %w", err)
	}

	attach, err := c.docker.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("run command: attaching exec: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		done <- err
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("run command: streaming output: %w", err)
		}
	case <-timer.C:
		// The local wait aborts; the process inside the container may
		// keep running.
		attach.Close()
		return nil, &sandbox.TimeoutError{After: timeout}
	case <-ctx.Done():
		attach.Close()
		return nil, fmt.Errorf("run command: %w", ctx.Err())
	}

	inspect, err := c.docker.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("run command: inspecting exec: %w", err)
	}

	return &sandbox.CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

// WriteFile transports content as a base64 payload inside one shell
// invocation that creates parent directories and decodes to the
// destination in a single step, so no partial write is observable.
func (c *Client) WriteFile(ctx context.Context, filePath, content string) error {
	out, err := c.RunCommand(ctx, writeFileCommand(filePath, content), "/", fileOpTimeout)
	if err != nil {
		return err
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("write file: %s: exit %d: %s", filePath, out.ExitCode, strings.TrimSpace(out.Stderr))
	}
	return nil
}

// ReadFile reads a file back through base64. A non-zero exit means the
// file is absent or unreadable.
func (c *Client) ReadFile(ctx context.Context, filePath string) (string, error) {
	out, err := c.RunCommand(ctx, readFileCommand(filePath), "/", fileOpTimeout)
	if err != nil {
		return "", err
	}
	if out.ExitCode != 0 {
		return "", fmt.Errorf("read file: %s: %w", filePath, sandbox.ErrNotFound)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(out.Stdout))
	if err != nil {
		return "", fmt.Errorf("read file: %s: decoding payload: %w", filePath, err)
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("read file: %s: content is not valid UTF-8", filePath)
	}
	return string(raw), nil
}

// ListFiles returns `ls -la` output for a directory.
func (c *Client) ListFiles(ctx context.Context, dirPath string) (string, error) {
	out, err := c.RunCommand(ctx, fmt.Sprintf("ls -la %s 2>&1", shellQuote(dirPath)), "/", listTimeout)
	if err != nil {
		return "", err
	}
	return out.Stdout, nil
}

// PreviewURL returns a localhost URL for the host port mapped at create
// time. It is reachable only from this machine.
func (c *Client) PreviewURL(ctx context.Context, port int) (string, error) {
	if _, err := c.RequireID(); err != nil {
		return "", err
	}

	hostPort, ok := c.HostPort(port)
	if !ok {
		// Only one container port is mapped; route any requested port to it.
		hostPort, ok = c.HostPort(c.sandboxPort)
	}
	if !ok {
		return "", fmt.Errorf("preview url: no host port mapping for port %d: %w", port, sandbox.ErrNotFound)
	}
	return fmt.Sprintf("http://localhost:%d", hostPort), nil
}

// CollectSnapshotFiles enumerates workdir with one find call that filters
// the skip-list, then reads each path. Unreadable files are logged and
// skipped.
func (c *Client) CollectSnapshotFiles(ctx context.Context, workdir string) (map[string]string, error) {
	if _, err := c.RequireID(); err != nil {
		return nil, err
	}

	out, err := c.RunCommand(ctx, findCommand(workdir), "/", snapshotTimeout)
	if err != nil {
		return nil, err
	}

	files := make(map[string]string)
	for _, line := range strings.Split(out.Stdout, "\n") {
		p := strings.TrimSpace(line)
		if p == "" {
			continue
		}
		content, err := c.ReadFile(ctx, p)
		if err != nil {
			c.logger.Printf("docker: snapshot: skipping unreadable file %s: %v", p, err)
			continue
		}
		files[p] = content
	}
	return files, nil
}

// writeFileCommand builds the one-shot write: mkdir parents, then decode
// the base64 payload to the destination. base64 keeps the transport
// 8-bit-clean regardless of quotes, backslashes, or newlines in content.
func writeFileCommand(filePath, content string) string {
	b64 := base64.StdEncoding.EncodeToString([]byte(content))
	return fmt.Sprintf("mkdir -p %s && printf '%%s' '%s' | base64 -d > %s",
		shellQuote(path.Dir(filePath)), b64, shellQuote(filePath))
}

func readFileCommand(filePath string) string {
	return fmt.Sprintf("base64 -w0 %s", shellQuote(filePath))
}

// findCommand enumerates regular files under workdir, excluding any path
// with a skip-listed directory component.
func findCommand(workdir string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "find %s -type f", shellQuote(workdir))
	for _, d := range sandbox.SkipDirs {
		fmt.Fprintf(&b, " -not -path '*/%s/*'", d)
	}
	return b.String()
}

// shellQuote single-quotes s for sh, escaping embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
