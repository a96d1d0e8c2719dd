package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	goruntime "runtime"
	"strings"
	"sync"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (

	// Snapshotter used when none is configured. fuse-overlayfs provides
	// overlay semantics without mount(2), so keg can run as a regular user.
	defaultSnapshotter = "fuse-overlayfs"

	// OCI runtime shim for running containers.
	ociRuntime = "io.containerd.runc.v2"
)

// Containerd connection and sandbox image settings.
type Config struct {
	Address     string // Containerd socket.
	Namespace   string // Containerd namespace scoping all keg resources.
	Image       string // Image reference to pull, or path to an OCI archive (.tar).
	Snapshotter string // Snapshotter name; empty uses fuse-overlayfs.
}

// Runs build steps inside containerd containers.
//
// Each [Runtime.Open] starts one container from the configured image with
// the scope's directories bind-mounted at their host paths, so commands
// see the same absolute paths as the host. The image is imported or pulled
// once per Runtime.
type Runtime struct {
	client      *containerd.Client // Containerd client for managing containers and images.
	image       string             // Configured image reference or archive path.
	snapshotter string
	platform    string

	mu  sync.Mutex
	tag string // Resolved local image name, set once the image is available.
}

// Connects to the containerd socket described by cfg.
//
// The runtime must be closed when no longer needed.
func New(cfg Config) (*Runtime, error) {
	if cfg.Image == "" {
		return nil, fmt.Errorf("%w: no sandbox image configured", ErrRuntime)
	}
	client, err := containerd.New(cfg.Address, containerd.WithDefaultNamespace(cfg.Namespace))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	snapshotter := cfg.Snapshotter
	if snapshotter == "" {
		snapshotter = defaultSnapshotter
	}
	return &Runtime{
		client:      client,
		image:       cfg.Image,
		snapshotter: snapshotter,
		platform:    defaultPlatform(),
	}, nil
}

// Closes the containerd client connection.
func (rt *Runtime) Close() error {
	return rt.client.Close()
}

// Starts a container for scope and returns it as a [Session].
//
// Any existing container with the same ID is removed first. The container
// runs a long-lived task (sleep infinity) so that each command attaches to
// it as an additional exec process.
func (rt *Runtime) Open(ctx context.Context, scope Scope) (Session, error) {
	tag, err := rt.ensureImage(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	c := &Container{
		client:      rt.client,
		id:          containerID(scope.ID),
		platform:    rt.platform,
		snapshotter: rt.snapshotter,
		binds:       scope.Binds,
	}

	// Remove any stale container from an interrupted run with the same ID.
	c.remove(ctx)

	image, err := rt.resolveImage(ctx, tag)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	config, err := image.Spec(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	if err := checkImage(config, rt.platform); err != nil {
		return nil, err
	}

	ctr, err := c.create(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := c.startTask(ctx, ctr); err != nil {
		ctr.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	slog.Debug("container started", "id", c.id, "image", tag)
	return c, nil
}

// Makes the configured image available locally and returns its name.
//
// Archives are imported and tagged under a name derived from their path.
// References are pulled unless the image store already has them.
func (rt *Runtime) ensureImage(ctx context.Context) (string, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.tag != "" {
		return rt.tag, nil
	}

	var err error
	if isArchive(rt.image) {
		err = rt.importImage(ctx, rt.image, imageTag(rt.image))
		if err == nil {
			rt.tag = imageTag(rt.image)
		}
	} else {
		err = rt.pullImage(ctx, rt.image)
		if err == nil {
			rt.tag = rt.image
		}
	}
	return rt.tag, err
}

func (rt *Runtime) pullImage(ctx context.Context, ref string) error {
	if _, err := rt.client.ImageService().Get(ctx, ref); err == nil {
		return rt.unpackImage(ctx, ref)
	} else if !errdefs.IsNotFound(err) {
		return err
	}

	slog.Info("pulling sandbox image", "image", ref)
	_, err := rt.client.Pull(ctx, ref,
		containerd.WithPlatform(rt.platform),
		containerd.WithPullUnpack,
		containerd.WithPullSnapshotter(rt.snapshotter),
	)
	return err
}

// Imports an OCI archive, tags it under the given name, and unpacks it for
// the host platform.
func (rt *Runtime) importImage(ctx context.Context, path, tag string) error {
	source, err := rt.importArchive(ctx, path)
	if err != nil {
		return err
	}
	if err := rt.tagImage(ctx, source, tag); err != nil {
		return err
	}
	if err := rt.unpackImage(ctx, tag); err != nil {
		return err
	}

	slog.Debug("image imported", "tag", tag)
	return nil
}

// Imports an OCI archive into the content store.
//
// The archive must contain exactly one image. A multi-platform archive has
// a single index entry; platform selection happens in resolveImage.
func (rt *Runtime) importArchive(ctx context.Context, path string) (images.Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return images.Image{}, err
	}
	defer fh.Close()

	imported, err := rt.client.Import(ctx, fh)
	if err != nil {
		return images.Image{}, err
	}

	if len(imported) == 0 {
		return images.Image{}, ErrEmptyArchive
	} else if len(imported) > 1 {
		return images.Image{}, ErrMultipleImages
	}

	return imported[0], nil
}

// Tags an imported image under a deterministic name.
//
// Updates the tag if it already exists. Removes the source record when
// its name differs from the tag to avoid duplicates.
func (rt *Runtime) tagImage(ctx context.Context, source images.Image, tag string) error {
	is := rt.client.ImageService()

	img := images.Image{
		Name:   tag,
		Target: source.Target,
	}

	if _, err := is.Create(ctx, img); err != nil {
		if !errdefs.IsAlreadyExists(err) {
			return err
		}
		if _, err := is.Update(ctx, img, "target"); err != nil {
			return err
		}
	}

	if source.Name != tag {
		_ = is.Delete(ctx, source.Name)
	}

	return nil
}

// Unpacks the image layers for the host platform into the snapshotter.
func (rt *Runtime) unpackImage(ctx context.Context, tag string) error {
	image, err := rt.resolveImage(ctx, tag)
	if err != nil {
		return err
	}
	return image.Unpack(ctx, rt.snapshotter)
}

// Looks up a tagged image and selects the manifest for the host platform.
func (rt *Runtime) resolveImage(ctx context.Context, tag string) (containerd.Image, error) {
	p, err := platforms.Parse(rt.platform)
	if err != nil {
		return nil, err
	}

	img, err := rt.client.ImageService().Get(ctx, tag)
	if err != nil {
		return nil, err
	}

	return containerd.NewImageWithPlatform(rt.client, img, platforms.Only(p)), nil
}

// Rejects sandbox images built for another OS or architecture.
func checkImage(config ocispec.Image, platform string) error {
	want, err := platforms.Parse(platform)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	got := ocispec.Platform{OS: config.OS, Architecture: config.Architecture, Variant: config.Variant}
	if !platforms.NewMatcher(want).Match(got) {
		return fmt.Errorf("%w: sandbox image is %s, host needs %s", ErrRuntime, platforms.Format(got), platform)
	}
	return nil
}

// Reports whether the image setting names a local OCI archive.
func isArchive(image string) bool {
	return strings.HasSuffix(image, ".tar") || strings.HasPrefix(image, "/") || strings.HasPrefix(image, "./")
}

// Produces a containerd image tag from an archive path.
//
// The path is hashed so the tag is a valid OCI reference whatever
// characters the path contains.
func imageTag(path string) string {
	h := sha256.Sum256([]byte(path))
	return fmt.Sprintf("import/%s:latest", hex.EncodeToString(h[:]))
}

// Containerd IDs allow a restricted alphabet; scope IDs are package names
// plus a uuid.
func containerID(id string) string {
	return "keg-" + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, id)
}

// Returns the default OCI platform for the host architecture.
func defaultPlatform() string {
	return "linux/" + goruntime.GOARCH
}
