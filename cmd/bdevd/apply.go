package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/repvol/pkg/volume"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a declarative volume configuration file",
	Long: `Apply a bdevd configuration from a YAML file using an apiVersion/kind/
metadata/spec resource shape.

Example:
  bdevd apply -f volumes.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")
}

// volumeResource is a declarative "Volume" resource: a volume's geometry
// and target replica count, plus the base replica slots to discover once
// it is created.
type volumeResource struct {
	APIVersion string           `yaml:"apiVersion"`
	Kind       string           `yaml:"kind"`
	Metadata   resourceMetadata `yaml:"metadata"`
	Spec       volumeSpec       `yaml:"spec"`
}

type resourceMetadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

type volumeSpec struct {
	BlockSize      uint32        `yaml:"blockSize"`
	NumBlocks      uint64        `yaml:"numBlocks"`
	TargetReplicas int           `yaml:"targetReplicas"`
	Replicas       []replicaSpec `yaml:"replicas"`
}

type replicaSpec struct {
	Handle   string `yaml:"handle"`
	Pool     string `yaml:"pool"`
	Addr     string `yaml:"addr"`
	NVMfPort int    `yaml:"nvmfPort"`
	CommPort int    `yaml:"commPort"`
}

// config is the top-level apply document: a list of Volume resources, so a
// whole fleet of volumes can be declared in one file.
type config struct {
	Volumes []volumeResource `yaml:"volumes"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	c := clientFromCmd(cmd)
	return applyFile(cmd.Context(), newAPIClientAdapter(c), filename)
}

// applier is the subset of operations applyFile needs, implemented both by
// the HTTP client (the normal "bdevd apply" path) and directly by
// *apiServer (the in-process path "bdevd serve --config" uses at startup,
// avoiding a loopback HTTP round trip against itself).
type applier interface {
	createVolume(ctx context.Context, name string, blockSize uint32, numBlocks uint64, targetReplicas int) (dumpInfo, error)
	addReplica(ctx context.Context, volumeName, handle, pool, addr string, nvmfPort, commPort int) (dumpInfo, error)
	inspect(ctx context.Context, volumeName string) (dumpInfo, error)
}

func newAPIClientAdapter(c *client) applier { return c }

func applyFile(ctx context.Context, a applier, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read %s: %w", filename, err)
	}

	var cfg config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse %s: %w", filename, err)
	}

	for _, res := range cfg.Volumes {
		if res.Kind != "" && res.Kind != "Volume" {
			return fmt.Errorf("unsupported resource kind: %s", res.Kind)
		}
		if err := applyVolume(ctx, a, res); err != nil {
			return fmt.Errorf("apply volume %s: %w", res.Metadata.Name, err)
		}
	}
	return nil
}

func applyVolume(ctx context.Context, a applier, res volumeResource) error {
	name := res.Metadata.Name

	if _, err := a.inspect(ctx, name); err != nil {
		fmt.Printf("Creating volume: %s\n", name)
		info, err := a.createVolume(ctx, name, res.Spec.BlockSize, res.Spec.NumBlocks, res.Spec.TargetReplicas)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Volume created: %s (target replicas: %d)\n", info.Name, info.TargetReplicas)
	} else {
		fmt.Printf("Volume already exists: %s (skipping create)\n", name)
	}

	for _, rep := range res.Spec.Replicas {
		fmt.Printf("Adding replica to %s: pool=%s addr=%s\n", name, rep.Pool, rep.Addr)
		info, err := a.addReplica(ctx, name, rep.Handle, rep.Pool, rep.Addr, rep.NVMfPort, rep.CommPort)
		if err != nil {
			if isDuplicateReplica(err) {
				fmt.Printf("Replica already discovered on %s (skipping)\n", name)
				continue
			}
			return err
		}
		fmt.Printf("✓ Replica added: %s now has %d/%d discovered\n", name, info.DiscoveredReplicas, info.TargetReplicas)
	}

	return nil
}

// isDuplicateReplica reports whether err means "this replica handle is
// already discovered", regardless of whether a ran in-process against the
// Controller (a *volume.Error) or over HTTP (an *apiError), so re-applying
// the same manifest is idempotent on both paths.
func isDuplicateReplica(err error) bool {
	if kind, ok := volume.KindOf(err); ok {
		return kind == volume.KindDuplicateName
	}
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == volume.KindDuplicateName.String()
	}
	return false
}
