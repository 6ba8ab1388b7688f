package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// client is a minimal HTTP JSON client for the control API in server.go.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(addr string) *client {
	return &client{
		baseURL: "http://" + addr,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type apiError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect to bdevd at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Message != "" {
			return &apiErr
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type dumpInfo struct {
	Name               string `json:"name"`
	State              int    `json:"state"`
	TargetReplicas     int    `json:"target_replicas"`
	DiscoveredReplicas int    `json:"discovered_replicas"`
	NumChannelSets     int    `json:"num_channel_sets"`
	Paused             bool   `json:"paused"`
}

func stateName(state int) string {
	switch state {
	case 0:
		return "configuring"
	case 1:
		return "online"
	case 2:
		return "offline"
	default:
		return "unknown"
	}
}

func (c *client) createVolume(ctx context.Context, name string, blockSize uint32, numBlocks uint64, targetReplicas int) (dumpInfo, error) {
	var out dumpInfo
	err := c.do(ctx, http.MethodPost, "/volumes", createVolumeRequest{
		Name:           name,
		BlockSize:      blockSize,
		NumBlocks:      numBlocks,
		TargetReplicas: targetReplicas,
	}, &out)
	return out, err
}

func (c *client) addReplica(ctx context.Context, volumeName, handle, pool, addr string, nvmfPort, commPort int) (dumpInfo, error) {
	var out dumpInfo
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/volumes/%s/replicas", volumeName), addReplicaRequest{
		Handle:   handle,
		Pool:     pool,
		Addr:     addr,
		NVMfPort: nvmfPort,
		CommPort: commPort,
	}, &out)
	return out, err
}

func (c *client) removeReplica(ctx context.Context, volumeName, handle string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/volumes/%s/replicas/%s", volumeName, handle), nil, nil)
}

func (c *client) removeVolume(ctx context.Context, volumeName string) error {
	return c.do(ctx, http.MethodDelete, "/volumes/"+volumeName, nil, nil)
}

func (c *client) pause(ctx context.Context, volumeName string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/volumes/%s/pause", volumeName), nil, nil)
}

func (c *client) unpause(ctx context.Context, volumeName string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/volumes/%s/unpause", volumeName), nil, nil)
}

func (c *client) list(ctx context.Context) ([]dumpInfo, error) {
	var out []dumpInfo
	err := c.do(ctx, http.MethodGet, "/volumes", nil, &out)
	return out, err
}

func (c *client) inspect(ctx context.Context, volumeName string) (dumpInfo, error) {
	var out dumpInfo
	err := c.do(ctx, http.MethodGet, "/volumes/"+volumeName, nil, &out)
	return out, err
}
