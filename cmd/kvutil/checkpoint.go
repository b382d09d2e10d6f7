package main

import (
	"fmt"

	"github.com/cuemby/kvaerner/kv"
	"github.com/spf13/cobra"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint DIR",
	Short: "Run one synchronous checkpoint pass against every table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]

		ec, err := loadEngineConfig(cmd)
		if err != nil {
			return fmt.Errorf("kvutil: checkpoint: %v", err)
		}
		cfg := kv.DefaultConfig(dir)
		cfg.NoBackground = true
		kv.ApplyEngineConfig(&cfg, ec)

		db, err := kv.Open(cfg)
		if err != nil {
			return fmt.Errorf("kvutil: checkpoint: open %s: %v", dir, err)
		}
		defer db.Close()

		if err := db.Checkpoint(); err != nil {
			return fmt.Errorf("kvutil: checkpoint: %v", err)
		}
		fmt.Println("checkpoint complete")
		return nil
	},
}
