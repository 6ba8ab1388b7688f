package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/cuemby/repvol/pkg/bdev"
	"github.com/cuemby/repvol/pkg/health"
	"github.com/cuemby/repvol/pkg/log"
	"github.com/cuemby/repvol/pkg/metrics"
	"github.com/cuemby/repvol/pkg/nvmf"
	"github.com/cuemby/repvol/pkg/volume"
)

// apiServer adapts the HTTP control API to a volume.Controller: a thin
// translation layer between JSON requests and Controller calls, with the
// applier methods below also usable directly, in-process.
type apiServer struct {
	ctrl      *volume.Controller
	publisher nvmf.Publisher
	baseDir   string
}

func newAPIServer(ctrl *volume.Controller, publisher nvmf.Publisher, baseDir string) *apiServer {
	return &apiServer{ctrl: ctrl, publisher: publisher, baseDir: baseDir}
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /volumes", s.handleCreate)
	mux.HandleFunc("GET /volumes", s.handleList)
	mux.HandleFunc("GET /volumes/{name}", s.handleInspect)
	mux.HandleFunc("DELETE /volumes/{name}", s.handleRemove)
	mux.HandleFunc("POST /volumes/{name}/replicas", s.handleAddReplica)
	mux.HandleFunc("DELETE /volumes/{name}/replicas/{handle}", s.handleRemoveReplica)
	mux.HandleFunc("POST /volumes/{name}/pause", s.handlePause)
	mux.HandleFunc("POST /volumes/{name}/unpause", s.handleUnpause)
	return mux
}

func (s *apiServer) snapshot() []metrics.VolumeSnapshot {
	infos := s.ctrl.List()
	out := make([]metrics.VolumeSnapshot, 0, len(infos))
	for _, info := range infos {
		out = append(out, metrics.VolumeSnapshot{
			Name:               info.Name,
			State:              info.State.String(),
			DiscoveredReplicas: info.DiscoveredReplicas,
			TargetReplicas:     info.TargetReplicas,
		})
	}
	return out
}

type createVolumeRequest struct {
	Name           string `json:"name"`
	BlockSize      uint32 `json:"block_size"`
	NumBlocks      uint64 `json:"num_blocks"`
	TargetReplicas int    `json:"target_replicas"`
}

// createVolume, addReplica, and inspect below satisfy the applier
// interface in apply.go directly against the Controller, so
// "bdevd serve --config" can apply a declarative config in-process
// without a loopback HTTP round trip against its own listener.

func (s *apiServer) createVolume(ctx context.Context, name string, blockSize uint32, numBlocks uint64, targetReplicas int) (dumpInfo, error) {
	if blockSize == 0 {
		blockSize = bdev.DefaultBlockSize
	}
	vol, err := s.ctrl.Registry.Create(volume.Config{
		Name:           name,
		BlockSize:      blockSize,
		NumBlocks:      numBlocks,
		TargetReplicas: targetReplicas,
	})
	if err != nil {
		return dumpInfo{}, err
	}
	return toDumpInfo(vol.DumpInfo()), nil
}

func (s *apiServer) inspect(ctx context.Context, volumeName string) (dumpInfo, error) {
	info, err := s.ctrl.Inspect(volumeName)
	if err != nil {
		return dumpInfo{}, err
	}
	return toDumpInfo(info), nil
}

func toDumpInfo(info volume.DumpInfo) dumpInfo {
	return dumpInfo{
		Name:               info.Name,
		State:              int(info.State),
		TargetReplicas:     info.TargetReplicas,
		DiscoveredReplicas: info.DiscoveredReplicas,
		NumChannelSets:     info.NumChannelSets,
		Paused:             info.Paused,
	}
}

func (s *apiServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createVolumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, volume.NewError(volume.KindInvalidArgument, "malformed request body: %v", err))
		return
	}

	info, err := s.createVolume(r.Context(), req.Name, req.BlockSize, req.NumBlocks, req.TargetReplicas)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *apiServer) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.List())
}

func (s *apiServer) handleInspect(w http.ResponseWriter, r *http.Request) {
	info, err := s.inspect(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *apiServer) handleRemove(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := s.ctrl.Remove(ctx, name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addReplicaRequest struct {
	Handle   string `json:"handle"`
	Pool     string `json:"pool"`
	Addr     string `json:"addr"`
	NVMfPort int    `json:"nvmf_port"`
	CommPort int    `json:"comm_port"`
}

// addReplica follows spec.md §4.7's dynamic add-replica path: an empty
// addr means a Local replica named "<pool>/<volume>"; otherwise the
// replica is Remote, reachable at addr:nvmfPort. Per the Open Question
// resolution in spec.md §9, a Remote replica is "connected" (here: probed
// reachable, then backed by the same FileDevice abstraction as a Local
// one) before AddReplica runs, so the hot path never distinguishes them.
func (s *apiServer) addReplica(ctx context.Context, volumeName, handle, pool, addr string, nvmfPort, commPort int) (dumpInfo, error) {
	vol, err := s.ctrl.Registry.Find(volumeName)
	if err != nil {
		return dumpInfo{}, err
	}

	kind := volume.ReplicaLocal
	var path string
	if addr == "" {
		if handle == "" {
			handle = fmt.Sprintf("%s/%s", pool, volumeName)
		}
		path = filepath.Join(s.baseDir, sanitizeHandle(handle)+".img")
	} else {
		kind = volume.ReplicaRemote
		target := fmt.Sprintf("%s:%d", addr, nvmfPort)
		if err := probeRemoteReplica(ctx, target); err != nil {
			return dumpInfo{}, err
		}
		if handle == "" {
			handle = target
		}
		path = filepath.Join(s.baseDir, "remote-"+sanitizeHandle(handle)+".img")
	}

	dev := bdev.NewFileDevice(handle, path, vol.BlockSize, vol.NumBlocks)
	if err := s.ctrl.AddReplica(ctx, volumeName, handle, kind, addr, dev); err != nil {
		return dumpInfo{}, err
	}

	info, err := s.ctrl.Inspect(volumeName)
	if err != nil {
		return dumpInfo{}, err
	}
	if info.State == volume.StateOnline {
		s.publishVolume(volumeName)
	}
	return toDumpInfo(info), nil
}

// probeRemoteReplica dials target up to health.DefaultConfig's Retries
// times, folding each result through a health.Status so a single dropped
// packet doesn't reject a replica that answers on the next attempt. This is
// the hysteresis pkg/health's doc comment describes.
func probeRemoteReplica(ctx context.Context, target string) error {
	cfg := health.DefaultConfig()
	status := health.NewStatus()
	checker := health.NewTCPChecker(target).WithTimeout(3 * time.Second)

	var result health.Result
	for attempt := 0; attempt < cfg.Retries; attempt++ {
		result = checker.Check(ctx)
		status.Update(result, cfg)
		if result.Healthy {
			break
		}
		if attempt < cfg.Retries-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}
	}

	if !status.Healthy {
		return volume.NewError(volume.KindBaseDeviceUnavailable, "remote replica %s unreachable after %d attempts: %s", target, cfg.Retries, result.Message)
	}
	return nil
}

func (s *apiServer) handleAddReplica(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req addReplicaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, volume.NewError(volume.KindInvalidArgument, "malformed request body: %v", err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	info, err := s.addReplica(ctx, name, req.Handle, req.Pool, req.Addr, req.NVMfPort, req.CommPort)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *apiServer) publishVolume(name string) {
	nqn := nvmf.NQN(name)
	logger := log.WithVolume(name)
	s.publisher.Publish(context.Background(), name, nqn, "127.0.0.1", 4420, func(err error) {
		if err != nil {
			logger.Error().Err(err).Msg("publish failed, volume remains online but unexposed")
		}
	})
}

func (s *apiServer) handleRemoveReplica(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	handle := r.PathValue("handle")

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := s.ctrl.RemoveReplica(ctx, name, handle, ""); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handlePause(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	drained := make(chan struct{})
	err := s.ctrl.Pause(ctx, name, func() { close(drained) })
	if err != nil {
		writeError(w, err)
		return
	}

	select {
	case <-drained:
		w.WriteHeader(http.StatusOK)
	case <-ctx.Done():
		writeError(w, volume.WrapError(volume.KindFatal, ctx.Err(), "pause did not drain volume %s in time", name))
	}
}

func (s *apiServer) handleUnpause(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := s.ctrl.Unpause(ctx, name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func sanitizeHandle(handle string) string {
	out := make([]rune, 0, len(handle))
	for _, r := range handle {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	resp := errorResponse{Kind: "unknown", Message: err.Error()}

	if k, ok := volume.KindOf(err); ok {
		resp.Kind = k.String()
		status = httpStatusForKind(k)
	}

	writeJSON(w, status, resp)
}

func httpStatusForKind(kind volume.Kind) int {
	switch kind {
	case volume.KindNotFound:
		return http.StatusNotFound
	case volume.KindDuplicateName:
		return http.StatusConflict
	case volume.KindInvalidArgument:
		return http.StatusBadRequest
	case volume.KindBusy, volume.KindAlreadyDestroying:
		return http.StatusConflict
	case volume.KindInvalidGeometry:
		return http.StatusUnprocessableEntity
	case volume.KindBaseDeviceUnavailable:
		return http.StatusServiceUnavailable
	case volume.KindIoFailed, volume.KindFatal, volume.KindOutOfMemory:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
