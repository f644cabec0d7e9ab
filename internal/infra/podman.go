package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/containers/podman/v5/pkg/bindings"
	"github.com/containers/podman/v5/pkg/bindings/containers"
	"github.com/containers/podman/v5/pkg/bindings/images"
	"github.com/containers/podman/v5/pkg/bindings/volumes"
	"github.com/containers/podman/v5/pkg/specgen"
	nettypes "go.podman.io/common/libnetwork/types"
	"go.uber.org/zap"
)

type ContainerConfig struct {
	name     string
	image    string
	hostname string
	shmSize  int64
	ports    map[int]int
	envVars  map[string]string
	volumes  map[string]string
}

// NewContainerConfig creates a new ContainerConfig with mandatory name and image.
func NewContainerConfig(name, image string) *ContainerConfig {
	return &ContainerConfig{
		name:    name,
		image:   image,
		ports:   make(map[int]int),
		envVars: make(map[string]string),
		volumes: make(map[string]string),
	}
}

// WithPort adds a port mapping (hostPort -> containerPort).
func (c *ContainerConfig) WithPort(hostPort, containerPort int) *ContainerConfig {
	c.ports[hostPort] = containerPort
	return c
}

// WithEnvVar adds a single environment variable.
func (c *ContainerConfig) WithEnvVar(key, value string) *ContainerConfig {
	c.envVars[key] = value
	return c
}

// WithVolume adds a named volume mapping (volumeName -> containerPath).
func (c *ContainerConfig) WithVolume(volumeName, containerPath string) *ContainerConfig {
	c.volumes[volumeName] = containerPath
	return c
}

func (c *ContainerConfig) WithHostname(hostname string) *ContainerConfig {
	c.hostname = hostname
	return c
}

// WithShmSize sets /dev/shm in bytes.
func (c *ContainerConfig) WithShmSize(bytes int64) *ContainerConfig {
	c.shmSize = bytes
	return c
}

func (c *ContainerConfig) Name() string { return c.name }

func (c *ContainerConfig) Image() string { return c.image }

func (c *ContainerConfig) Env(key string) string { return c.envVars[key] }

func (c *ContainerConfig) Ports() map[int]int { return c.ports }

func (c *ContainerConfig) Volumes() map[string]string { return c.volumes }

func (c *ContainerConfig) spec() *specgen.SpecGenerator {
	s := specgen.NewSpecGenerator(c.image, false)
	s.Name = c.name
	s.Hostname = c.hostname
	s.Env = c.envVars
	if c.shmSize > 0 {
		size := c.shmSize
		s.ShmSize = &size
	}

	if len(c.ports) > 0 {
		s.PortMappings = make([]nettypes.PortMapping, 0, len(c.ports))
		for hostPort, containerPort := range c.ports {
			s.PortMappings = append(s.PortMappings, nettypes.PortMapping{
				HostPort:      uint16(hostPort),
				ContainerPort: uint16(containerPort),
				Protocol:      "tcp",
			})
		}
	}

	if len(c.volumes) > 0 {
		s.Volumes = make([]*specgen.NamedVolume, 0, len(c.volumes))
		for volumeName, containerPath := range c.volumes {
			s.Volumes = append(s.Volumes, &specgen.NamedVolume{
				Name: volumeName,
				Dest: containerPath,
			})
		}
	}
	return s
}

// ContainerState is the subset of an inspect result the stack needs.
type ContainerState struct {
	Exists  bool
	Running bool
	Status  string
}

// Runtime is the container engine the stack drives. PodmanRunner implements
// it on top of the podman REST bindings.
type Runtime interface {
	EnsureImage(ctx context.Context, image string) error
	StartContainer(ctx context.Context, cfg *ContainerConfig) (string, error)
	StopContainer(ctx context.Context, nameOrID string) error
	RemoveContainer(ctx context.Context, nameOrID string) error
	State(ctx context.Context, nameOrID string) (ContainerState, error)
	Logs(ctx context.Context, nameOrID string, tail int) ([]string, error)
	RemoveVolume(ctx context.Context, name string) error
}

type PodmanRunner struct {
	conn   context.Context
	logger *zap.SugaredLogger
}

func NewPodmanRunner(ctx context.Context, socket string) (*PodmanRunner, error) {
	conn, err := bindings.NewConnection(ctx, socket)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to podman: %w", err)
	}
	return &PodmanRunner{conn: conn, logger: zap.S().Named("podman")}, nil
}

// bound returns the connection context cancelled together with ctx.
func (p *PodmanRunner) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	conn, cancel := context.WithCancel(p.conn)
	stop := context.AfterFunc(ctx, cancel)
	return conn, func() {
		stop()
		cancel()
	}
}

func (p *PodmanRunner) EnsureImage(ctx context.Context, image string) error {
	conn, cancel := p.bound(ctx)
	defer cancel()

	exists, err := images.Exists(conn, image, nil)
	if err != nil {
		return fmt.Errorf("failed to check image: %w", err)
	}
	if exists {
		return nil
	}

	p.logger.Infow("pulling image", "image", image)
	if _, err := images.Pull(conn, image, new(images.PullOptions).WithQuiet(true)); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", image, err)
	}
	return nil
}

func (p *PodmanRunner) StartContainer(ctx context.Context, cfg *ContainerConfig) (string, error) {
	conn, cancel := p.bound(ctx)
	defer cancel()

	createResponse, err := containers.CreateWithSpec(conn, cfg.spec(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	if err := containers.Start(conn, createResponse.ID, nil); err != nil {
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	p.logger.Infow("container started", "name", cfg.name, "id", createResponse.ID)
	return createResponse.ID, nil
}

func (p *PodmanRunner) StopContainer(ctx context.Context, nameOrID string) error {
	conn, cancel := p.bound(ctx)
	defer cancel()

	if err := containers.Stop(conn, nameOrID, nil); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

func (p *PodmanRunner) RemoveContainer(ctx context.Context, nameOrID string) error {
	conn, cancel := p.bound(ctx)
	defer cancel()

	if _, err := containers.Remove(conn, nameOrID, new(containers.RemoveOptions).WithForce(true)); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

func (p *PodmanRunner) State(ctx context.Context, nameOrID string) (ContainerState, error) {
	conn, cancel := p.bound(ctx)
	defer cancel()

	exists, err := containers.Exists(conn, nameOrID, nil)
	if err != nil {
		return ContainerState{}, fmt.Errorf("failed to check container: %w", err)
	}
	if !exists {
		return ContainerState{}, nil
	}

	data, err := containers.Inspect(conn, nameOrID, nil)
	if err != nil {
		return ContainerState{}, fmt.Errorf("failed to inspect container: %w", err)
	}
	return ContainerState{
		Exists:  true,
		Running: data.State.Running,
		Status:  data.State.Status,
	}, nil
}

// Logs returns the last tail lines of stdout and stderr interleaved in
// arrival order. A tail of zero returns everything.
func (p *PodmanRunner) Logs(ctx context.Context, nameOrID string, tail int) ([]string, error) {
	conn, cancel := p.bound(ctx)
	defer cancel()

	var (
		mu    sync.Mutex
		lines []string
		wg    sync.WaitGroup
	)
	stdoutChan := make(chan string)
	stderrChan := make(chan string)
	collect := func(ch <-chan string) {
		defer wg.Done()
		for line := range ch {
			mu.Lock()
			lines = append(lines, strings.TrimRight(line, "\n"))
			mu.Unlock()
		}
	}
	wg.Add(2)
	go collect(stdoutChan)
	go collect(stderrChan)

	opts := new(containers.LogOptions).WithStdout(true).WithStderr(true)
	if tail > 0 {
		opts = opts.WithTail(strconv.Itoa(tail))
	}
	err := containers.Logs(conn, nameOrID, opts, stdoutChan, stderrChan)
	close(stdoutChan)
	close(stderrChan)
	wg.Wait()

	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	return lines, nil
}

func (p *PodmanRunner) RemoveVolume(ctx context.Context, name string) error {
	conn, cancel := p.bound(ctx)
	defer cancel()

	exists, err := volumes.Exists(conn, name, nil)
	if err != nil {
		return fmt.Errorf("failed to check volume: %w", err)
	}
	if !exists {
		return nil
	}
	if err := volumes.Remove(conn, name, nil); err != nil {
		return fmt.Errorf("failed to remove volume: %w", err)
	}
	return nil
}
