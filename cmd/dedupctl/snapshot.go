package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"newsdedup/deduplication"
	"newsdedup/engine"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Copy state files to and from the S3 mirror",
}

var snapshotPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload the local index and id map to S3",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := mirrorStore(cmd)
		if err != nil {
			return err
		}
		if err := store.PushMirror(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("%s pushed %s and %s\n", color.GreenString("✓"), store.IndexPath(), store.IDMapPath())
		return nil
	},
}

var snapshotPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Replace the local index and id map with the S3 copies",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := mirrorStore(cmd)
		if err != nil {
			return err
		}
		if err := store.PullMirror(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("%s pulled %s and %s\n", color.GreenString("✓"), store.IndexPath(), store.IDMapPath())
		return nil
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List mirrored snapshot files",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.MirrorEnabled() {
			return fmt.Errorf("S3_BUCKET is not set")
		}
		mirror, err := engine.NewMirror(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		objects, err := mirror.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(objects) == 0 {
			fmt.Println(color.HiBlackString("no snapshots"))
			return nil
		}
		for _, o := range objects {
			fmt.Printf("  %-32s %10d  %s\n", o.Name, o.Size, o.LastModified.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func mirrorStore(cmd *cobra.Command) (*deduplication.Store, error) {
	if !cfg.MirrorEnabled() {
		return nil, fmt.Errorf("S3_BUCKET is not set")
	}
	mirror, err := engine.NewMirror(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, err
	}
	return deduplication.NewStore(cfg.IndexPath, cfg.IDMapPath, mirror, logger), nil
}

func init() {
	snapshotCmd.AddCommand(snapshotPushCmd, snapshotPullCmd, snapshotListCmd)
	rootCmd.AddCommand(snapshotCmd)
}
