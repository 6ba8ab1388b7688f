package volume

import (
	"context"
	"sync"

	"github.com/cuemby/repvol/pkg/events"
	"github.com/cuemby/repvol/pkg/log"
	"github.com/cuemby/repvol/pkg/metrics"
)

// Config describes a volume to be created, the in-memory analogue of the
// source's longhorn_bdev_config — there is no on-disk metadata store in
// this rewrite, so Config exists only to drive Registry.Create and
// cmd/bdevd's declarative apply.
type Config struct {
	Name           string
	BlockSize      uint32
	NumBlocks      uint64
	TargetReplicas int
}

// Registry is the process-wide table of volumes, corresponding to the
// source's global g_longhorn_bdev_config_head / g_longhorn_bdev_head
// lists: one entry per volume name, reachable by name in any lifecycle
// state.
type Registry struct {
	broker *events.Broker

	mu               sync.RWMutex
	configs          map[string]Config
	volumes          map[string]*Volume
	shutdownStarted  bool
}

// NewRegistry creates an empty Registry. broker may be nil if lifecycle
// events are not needed (e.g. in unit tests).
func NewRegistry(broker *events.Broker) *Registry {
	return &Registry{
		broker:  broker,
		configs: make(map[string]Config),
		volumes: make(map[string]*Volume),
	}
}

// Create registers cfg and returns the new Volume in state Configuring.
// Creating a volume with a name already in the registry returns
// KindDuplicateName.
func (reg *Registry) Create(cfg Config) (*Volume, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.shutdownStarted {
		return nil, NewError(KindAlreadyDestroying, "registry is shutting down, refusing to create volume %s", cfg.Name)
	}
	if _, exists := reg.volumes[cfg.Name]; exists {
		return nil, NewError(KindDuplicateName, "volume %s already exists", cfg.Name)
	}
	if cfg.TargetReplicas <= 0 {
		return nil, NewError(KindInvalidArgument, "volume %s: target_replicas must be positive", cfg.Name)
	}
	if cfg.BlockSize == 0 {
		return nil, NewError(KindInvalidArgument, "volume %s: block_size must be positive", cfg.Name)
	}

	vol := New(cfg.Name, cfg.BlockSize, cfg.NumBlocks, cfg.TargetReplicas, reg.broker)
	reg.configs[cfg.Name] = cfg
	reg.volumes[cfg.Name] = vol

	metrics.VolumesTotal.WithLabelValues(StateConfiguring.String()).Inc()
	metrics.ReplicasTarget.WithLabelValues(cfg.Name).Set(float64(cfg.TargetReplicas))
	log.WithVolume(cfg.Name).Info().Int("target_replicas", cfg.TargetReplicas).Msg("volume created, configuring")

	return vol, nil
}

// Find returns the named volume, or KindNotFound if it is not registered.
func (reg *Registry) Find(name string) (*Volume, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	vol, ok := reg.volumes[name]
	if !ok {
		return nil, NewError(KindNotFound, "volume %s not found", name)
	}
	return vol, nil
}

// All returns every registered volume regardless of lifecycle state.
func (reg *Registry) All() []*Volume {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	out := make([]*Volume, 0, len(reg.volumes))
	for _, vol := range reg.volumes {
		out = append(out, vol)
	}
	return out
}

// ByState returns every registered volume currently in the given state.
func (reg *Registry) ByState(state State) []*Volume {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	out := make([]*Volume, 0)
	for _, vol := range reg.volumes {
		if vol.State() == state {
			out = append(out, vol)
		}
	}
	return out
}

// Drop removes name from the registry after it has been fully destructed.
// Calling Drop while the volume still has discovered replicas returns
// KindInvalidArgument; a Destruct that left replicas in place does not
// make the volume droppable.
func (reg *Registry) Drop(name string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	vol, ok := reg.volumes[name]
	if !ok {
		return NewError(KindNotFound, "volume %s not found", name)
	}
	if vol.DiscoveredReplicas() > 0 {
		return NewError(KindInvalidArgument, "volume %s still has discovered replicas, destruct it first", name)
	}

	delete(reg.volumes, name)
	delete(reg.configs, name)
	return nil
}

// Shutdown marks the registry as shutting down (refusing further Create
// calls) and destructs every registered volume under the global-shutdown
// rule: every discovered replica is released, not only those scheduled
// for removal.
func (reg *Registry) Shutdown(ctx context.Context) error {
	reg.mu.Lock()
	reg.shutdownStarted = true
	volumes := make([]*Volume, 0, len(reg.volumes))
	for _, vol := range reg.volumes {
		volumes = append(volumes, vol)
	}
	reg.mu.Unlock()

	var firstErr error
	for _, vol := range volumes {
		if err := vol.Destruct(ctx, true); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
