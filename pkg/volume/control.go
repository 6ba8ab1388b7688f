package volume

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/repvol/pkg/bdev"
	"github.com/cuemby/repvol/pkg/threadctx"
)

// Controller is the control-plane entry point cmd/bdevd drives: it wraps a
// Registry with the host-thread bookkeeping a real NVMe-oF front end would
// otherwise own, and exposes create, add-replica, remove-replica, remove,
// pause, unpause, list, and inspect.
type Controller struct {
	Registry *Registry

	mu      sync.Mutex
	threads map[string]*threadctx.Thread
}

// NewController creates a Controller over reg.
func NewController(reg *Registry) *Controller {
	return &Controller{
		Registry: reg,
		threads:  make(map[string]*threadctx.Thread),
	}
}

// Thread returns the named host thread, starting it if this is the first
// time it has been referenced.
func (c *Controller) Thread(name string) *threadctx.Thread {
	c.mu.Lock()
	defer c.mu.Unlock()

	if th, ok := c.threads[name]; ok {
		return th
	}
	th := threadctx.New(name, 64)
	c.threads[name] = th
	return th
}

// Shutdown stops every thread the controller has started and destructs
// every volume in the registry.
func (c *Controller) Shutdown(ctx context.Context) error {
	err := c.Registry.Shutdown(ctx)

	c.mu.Lock()
	threads := make([]*threadctx.Thread, 0, len(c.threads))
	for _, th := range c.threads {
		threads = append(threads, th)
	}
	c.threads = make(map[string]*threadctx.Thread)
	c.mu.Unlock()

	for _, th := range threads {
		th.Stop()
	}
	return err
}

// Create registers a new volume per cfg.
func (c *Controller) Create(cfg Config) (*Volume, error) {
	return c.Registry.Create(cfg)
}

// AddReplica discovers dev as a new base replica on the named volume. It
// always runs the full discover-validate-open-notify path, even for a
// replica added after the volume is already online.
func (c *Controller) AddReplica(ctx context.Context, volumeName, handle string, kind ReplicaKind, addr string, dev bdev.Device) error {
	vol, err := c.Registry.Find(volumeName)
	if err != nil {
		return err
	}

	originThread := c.Thread(fmt.Sprintf("%s/%s", volumeName, handle))
	r := NewBaseReplica(handle, kind, addr, dev, originThread)
	return vol.AddReplica(ctx, r)
}

// RemoveReplica schedules handle for removal from volumeName, run from
// threadName's perspective (so the asymmetric open/close rule in
// replica.go knows whether to post the close back to the replica's
// origin thread).
func (c *Controller) RemoveReplica(ctx context.Context, volumeName, handle, threadName string) error {
	vol, err := c.Registry.Find(volumeName)
	if err != nil {
		return err
	}
	var callingThread *threadctx.Thread
	if threadName != "" {
		callingThread = c.Thread(threadName)
	}
	return vol.RemoveReplica(ctx, handle, callingThread)
}

// Remove implements volume_remove: it schedules every discovered replica
// on volumeName for removal, deconfigures and destructs the volume, and
// drops it from the registry once no discovered replicas remain.
func (c *Controller) Remove(ctx context.Context, volumeName string) error {
	vol, err := c.Registry.Find(volumeName)
	if err != nil {
		return err
	}
	if err := vol.Remove(ctx); err != nil {
		return err
	}
	return c.Registry.Drop(volumeName)
}

// Pause quiesces volumeName, invoking cb once every channel set has
// drained.
func (c *Controller) Pause(ctx context.Context, volumeName string, cb PauseCallback) error {
	vol, err := c.Registry.Find(volumeName)
	if err != nil {
		return err
	}
	return vol.Pause(ctx, cb)
}

// Unpause posts unpause messages to every channel set and reports success
// once they are posted; it does not wait for each thread to process them.
func (c *Controller) Unpause(ctx context.Context, volumeName string) error {
	vol, err := c.Registry.Find(volumeName)
	if err != nil {
		return err
	}
	return vol.Unpause(ctx)
}

// List returns a DumpInfo snapshot for every registered volume.
func (c *Controller) List() []DumpInfo {
	volumes := c.Registry.All()
	out := make([]DumpInfo, 0, len(volumes))
	for _, vol := range volumes {
		out = append(out, vol.DumpInfo())
	}
	return out
}

// Inspect returns a DumpInfo snapshot for a single volume.
func (c *Controller) Inspect(volumeName string) (DumpInfo, error) {
	vol, err := c.Registry.Find(volumeName)
	if err != nil {
		return DumpInfo{}, err
	}
	return vol.DumpInfo(), nil
}
