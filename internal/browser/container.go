package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/listing-harness/internal/driver"
	"github.com/shehryarbajwa/listing-harness/pkg/models"
)

const (
	DefaultContainerImage = "browserless/chrome:latest"
	cdpPort               = nat.Port("3000/tcp")
)

// CDPConnector attaches to a running Chromium over the DevTools protocol
type CDPConnector interface {
	ConnectOverCDP(ctx context.Context, endpoint string, timeout time.Duration) (driver.Browser, error)
}

// ContainerLauncher runs each browser in its own browserless Chrome container
// and attaches to it over CDP.
type ContainerLauncher struct {
	client    *client.Client
	connector CDPConnector
	image     string
	logger    *zap.Logger
}

func NewContainerLauncher(connector CDPConnector, image string, logger *zap.Logger) (*ContainerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if image == "" {
		image = DefaultContainerImage
	}

	return &ContainerLauncher{
		client:    cli,
		connector: connector,
		image:     image,
		logger:    logger.Named("container"),
	}, nil
}

// Launch starts a container and returns a browser that removes it on Close.
// Only Chromium speaks CDP, so other engines are rejected.
func (l *ContainerLauncher) Launch(ctx context.Context, engine models.Engine, opts driver.LaunchOptions) (driver.Browser, error) {
	if engine != models.EngineChromium {
		return nil, fmt.Errorf("%w: container target only supports %s, got %s", models.ErrConfiguration, models.EngineChromium, engine)
	}

	name := fmt.Sprintf("harness-%s", uuid.New().String()[:8])
	containerConfig := &container.Config{
		Image: l.image,
		Labels: map[string]string{
			"managed-by": "listing-harness",
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",
			"MAX_CONCURRENT_SESSIONS=1",
			"PREBOOT_CHROME=true",
			"KEEP_ALIVE=true",
			"EXIT_ON_HEALTH_FAILURE=false",
		},
		ExposedPorts: nat.PortSet{
			cdpPort: struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			cdpPort: []nat.PortBinding{
				{
					HostIP:   "127.0.0.1",
					HostPort: "0",
				},
			},
		},
		AutoRemove: false,
	}

	resp, err := l.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := l.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		l.stop(resp.ID)
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := l.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		l.stop(resp.ID)
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}

	bindings := inspect.NetworkSettings.Ports[cdpPort]
	if len(bindings) == 0 {
		l.stop(resp.ID)
		return nil, fmt.Errorf("container %s exposes no CDP port", resp.ID)
	}
	port := bindings[0].HostPort

	if err := l.waitForBrowserReady(ctx, port, opts.Timeout); err != nil {
		l.stop(resp.ID)
		return nil, fmt.Errorf("browser failed to become ready: %w", err)
	}

	b, err := l.connector.ConnectOverCDP(ctx, fmt.Sprintf("ws://127.0.0.1:%s", port), opts.Timeout)
	if err != nil {
		l.stop(resp.ID)
		return nil, err
	}

	l.logger.Info("container browser ready", zap.String("container", resp.ID[:12]), zap.String("port", port))

	containerID := resp.ID
	return driver.WithCloseHook(b, func() error {
		return l.stop(containerID)
	}), nil
}

// EnsureImage pulls the browser image if it is not present locally
func (l *ContainerLauncher) EnsureImage(ctx context.Context) error {
	images, err := l.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}

	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == l.image {
				return nil
			}
		}
	}

	l.logger.Info("pulling browser image", zap.String("image", l.image))
	reader, err := l.client.ImagePull(ctx, l.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (l *ContainerLauncher) Close() error {
	return l.client.Close()
}

func (l *ContainerLauncher) stop(containerID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	timeout := 10
	if err := l.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		l.logger.Warn("failed to stop container", zap.String("container", containerID), zap.Error(err))
	}
	if err := l.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

type versionInfo struct {
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// waitForBrowserReady polls /json/version until Chrome answers, then checks
// the DevTools websocket accepts a connection.
func (l *ContainerLauncher) waitForBrowserReady(ctx context.Context, port string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("http://127.0.0.1:%s/json/version", port)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		if info, err := fetchVersion(ctx, url); err == nil {
			wsURL := info.WebSocketDebuggerURL
			if wsURL == "" {
				wsURL = fmt.Sprintf("ws://127.0.0.1:%s", port)
			}
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
			if err == nil {
				conn.Close()
				return nil
			}
			l.logger.Debug("devtools websocket not ready", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("browser on port %s not ready: %w", port, ctx.Err())
		case <-ticker.C:
		}
	}
}

func fetchVersion(ctx context.Context, url string) (*versionInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var info versionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}
	return &info, nil
}
