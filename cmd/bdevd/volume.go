package main

import (
	"fmt"

	"github.com/cuemby/repvol/pkg/bdev"
	"github.com/spf13/cobra"
)

var volumeCmd = &cobra.Command{
	Use:   "volume",
	Short: "Manage replicated block volumes",
}

var volumeCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a new volume in state configuring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)
		replicas, _ := cmd.Flags().GetInt("replicas")
		blockSize, _ := cmd.Flags().GetUint32("block-size")
		numBlocks, _ := cmd.Flags().GetUint64("num-blocks")

		info, err := c.createVolume(cmd.Context(), args[0], blockSize, numBlocks, replicas)
		if err != nil {
			return err
		}
		printDumpInfo(info)
		return nil
	},
}

var volumeAddReplicaCmd = &cobra.Command{
	Use:   "add-replica NAME",
	Short: "Add a base replica to a volume (local if --addr-remote is empty, remote otherwise)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)
		pool, _ := cmd.Flags().GetString("pool")
		addr, _ := cmd.Flags().GetString("addr-remote")
		nvmfPort, _ := cmd.Flags().GetInt("nvmf-port")
		commPort, _ := cmd.Flags().GetInt("comm-port")
		handle, _ := cmd.Flags().GetString("handle")

		info, err := c.addReplica(cmd.Context(), args[0], handle, pool, addr, nvmfPort, commPort)
		if err != nil {
			return err
		}
		printDumpInfo(info)
		return nil
	},
}

var volumeRemoveReplicaCmd = &cobra.Command{
	Use:   "remove-replica NAME HANDLE",
	Short: "Schedule a base replica for removal",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)
		if err := c.removeReplica(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("✓ replica removed: %s/%s\n", args[0], args[1])
		return nil
	},
}

var volumeRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Destruct a volume and drop it from the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)
		if err := c.removeVolume(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ volume removed: %s\n", args[0])
		return nil
	},
}

var volumePauseCmd = &cobra.Command{
	Use:   "pause NAME",
	Short: "Quiesce a volume, blocking until every channel set drains",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)
		if err := c.pause(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ volume paused: %s\n", args[0])
		return nil
	},
}

var volumeUnpauseCmd = &cobra.Command{
	Use:   "unpause NAME",
	Short: "Clear a volume's pause state on every channel set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)
		if err := c.unpause(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ volume unpaused: %s\n", args[0])
		return nil
	},
}

var volumeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List volumes known to the registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)
		infos, err := c.list(cmd.Context())
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("No volumes found")
			return nil
		}
		fmt.Printf("%-20s %-12s %-10s %-10s %-8s\n", "NAME", "STATE", "REPLICAS", "CHANNELS", "PAUSED")
		for _, info := range infos {
			fmt.Printf("%-20s %-12s %-10s %-10d %-8t\n",
				info.Name,
				stateName(info.State),
				fmt.Sprintf("%d/%d", info.DiscoveredReplicas, info.TargetReplicas),
				info.NumChannelSets,
				info.Paused,
			)
		}
		return nil
	},
}

var volumeInspectCmd = &cobra.Command{
	Use:   "inspect NAME",
	Short: "Show dump_info_json-equivalent detail for a volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)
		info, err := c.inspect(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printDumpInfo(info)
		return nil
	},
}

func init() {
	volumeCmd.AddCommand(
		volumeCreateCmd,
		volumeAddReplicaCmd,
		volumeRemoveReplicaCmd,
		volumeRemoveCmd,
		volumePauseCmd,
		volumeUnpauseCmd,
		volumeListCmd,
		volumeInspectCmd,
	)

	volumeCreateCmd.Flags().Int("replicas", 1, "Target number of base replicas")
	volumeCreateCmd.Flags().Uint32("block-size", bdev.DefaultBlockSize, "Logical block size in bytes")
	volumeCreateCmd.Flags().Uint64("num-blocks", 262144, "Capacity in blocks")

	volumeAddReplicaCmd.Flags().String("pool", "", "Storage-pool name for a local replica (bdev_name = pool/volume)")
	volumeAddReplicaCmd.Flags().String("addr-remote", "", "Remote replica address (empty means local)")
	volumeAddReplicaCmd.Flags().Int("nvmf-port", 4420, "Remote replica NVMe-oF port")
	volumeAddReplicaCmd.Flags().Int("comm-port", 0, "Remote replica control sidecar port")
	volumeAddReplicaCmd.Flags().String("handle", "", "Replica handle override (defaults to pool/volume or addr:port)")
}

func clientFromCmd(cmd *cobra.Command) *client {
	addr, _ := cmd.Flags().GetString("addr")
	return newClient(addr)
}

func printDumpInfo(info dumpInfo) {
	fmt.Printf("Volume: %s\n", info.Name)
	fmt.Printf("  State:       %s (%d)\n", stateName(info.State), info.State)
	fmt.Printf("  Replicas:    %d/%d discovered\n", info.DiscoveredReplicas, info.TargetReplicas)
	fmt.Printf("  ChannelSets: %d\n", info.NumChannelSets)
	fmt.Printf("  Paused:      %t\n", info.Paused)
}
