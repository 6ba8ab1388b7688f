// Package nvmf glues a Volume to the NVMe-oF target publisher. The real
// publisher lives outside this module entirely — publishing a bdev as an
// NVMe-oF namespace is the host framework's job. Publisher is the
// interface that boundary is described by; the logging implementation
// here exists so cmd/bdevd has something concrete to wire up without
// fabricating a dependency on an NVMe-oF library.
package nvmf

import (
	"context"
	"fmt"

	"github.com/cuemby/repvol/pkg/log"
)

// VolumeFormat is the NQN template new volumes are published under.
const VolumeFormat = "nqn.2016-06.io.repvol:volume.%s"

// NQN returns the fully-qualified NVMe Qualified Name for a volume.
func NQN(volumeName string) string {
	return fmt.Sprintf(VolumeFormat, volumeName)
}

// PublishCallback is invoked once publication completes or fails,
// asynchronously, matching the callback-driven style the host framework
// uses for every operation that crosses a thread boundary.
type PublishCallback func(err error)

// Publisher exposes a volume as an NVMe-oF subsystem namespace.
type Publisher interface {
	// Publish exposes volumeName at the given address and port under
	// the given NQN, invoking cb asynchronously when done.
	Publish(ctx context.Context, volumeName, nqn, addr string, port int, cb PublishCallback)

	// Unpublish removes a previously published namespace.
	Unpublish(ctx context.Context, volumeName, nqn string, cb PublishCallback)
}

// LoggingPublisher is a Publisher that does no real NVMe-oF work: it logs
// the request and invokes the callback successfully on its own goroutine,
// matching the asynchronous, callback-driven notification style already
// used by pkg/events and pkg/health in this rewrite.
type LoggingPublisher struct{}

// NewLoggingPublisher returns a Publisher suitable for environments with no
// real NVMe-oF target (development, CI, or a host framework not yet wired
// up).
func NewLoggingPublisher() *LoggingPublisher {
	return &LoggingPublisher{}
}

func (p *LoggingPublisher) Publish(ctx context.Context, volumeName, nqn, addr string, port int, cb PublishCallback) {
	logger := log.WithVolume(volumeName)
	go func() {
		logger.Info().
			Str("nqn", nqn).
			Str("addr", addr).
			Int("port", port).
			Msg("publishing volume over nvme-of")
		cb(nil)
	}()
}

func (p *LoggingPublisher) Unpublish(ctx context.Context, volumeName, nqn string, cb PublishCallback) {
	logger := log.WithVolume(volumeName)
	go func() {
		logger.Info().Str("nqn", nqn).Msg("unpublishing volume")
		cb(nil)
	}()
}
