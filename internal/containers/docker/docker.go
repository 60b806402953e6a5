// Package docker implements [containers.Runtime] against a local Docker
// daemon. One client with its connection pool is shared per process.
package docker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"

	"github.com/meetscribe/meetscribe/internal/containers"
)

var _ containers.Runtime = (*Driver)(nil)

// stopGrace is how long a bot gets to leave the meeting cleanly before the
// daemon sends SIGKILL.
const stopGrace = 10 * time.Second

// Driver launches bot containers through the Docker API. Safe for concurrent
// use.
type Driver struct {
	cli                  *client.Client
	image                string
	network              string
	transcriptionService string
}

// New connects to the daemon at host (e.g. unix:///var/run/docker.sock).
// API version negotiation keeps the driver compatible with older daemons.
func New(host, image, network, transcriptionService string) (*Driver, error) {
	cli, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker: connect %s: %w", host, err)
	}
	return &Driver{
		cli:                  cli,
		image:                image,
		network:              network,
		transcriptionService: transcriptionService,
	}, nil
}

// Launch implements [containers.Runtime]. Auto-removal stays off so failed
// containers can be inspected post mortem; orphans are reaped by name prefix.
func (d *Driver) Launch(ctx context.Context, spec containers.LaunchSpec) (string, error) {
	env, err := containers.BotEnv(spec, d.transcriptionService)
	if err != nil {
		return "", containers.LaunchErr("build env", err)
	}

	name := containers.ContainerName(spec.Platform)
	created, err := d.cli.ContainerCreate(ctx,
		&container.Config{
			Image: d.image,
			Env:   env,
			Labels: map[string]string{
				"meetscribe.role":     "bot",
				"meetscribe.platform": string(spec.Platform),
			},
		},
		&container.HostConfig{
			NetworkMode: container.NetworkMode(d.network),
			AutoRemove:  false,
		},
		nil, nil, name)
	if err != nil {
		return "", containers.LaunchErr("create "+name, err)
	}

	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		// The created-but-unstartable container is left in place for
		// inspection; only the start failure is reported.
		return "", containers.LaunchErr("start "+name, err)
	}

	slog.Info("docker: bot container started",
		"name", name, "container_id", created.ID, "platform", spec.Platform)
	return created.ID, nil
}

// Stop implements [containers.Runtime]. A missing or already-stopped
// container is a success: the stop path must be idempotent.
func (d *Driver) Stop(ctx context.Context, containerID string) error {
	grace := int(stopGrace.Seconds())
	err := d.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &grace})
	switch {
	case err == nil:
		return nil
	case errdefs.IsNotFound(err) || errdefs.IsNotModified(err):
		slog.Info("docker: container already gone", "container_id", containerID)
		return nil
	default:
		return fmt.Errorf("docker: stop %s: %w", containerID, err)
	}
}

// Ping implements [containers.Runtime].
func (d *Driver) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker: ping: %w", err)
	}
	return nil
}

// Close releases the daemon connection pool.
func (d *Driver) Close() error {
	return d.cli.Close()
}
