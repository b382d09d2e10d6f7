package main

import (
	"fmt"

	"github.com/cuemby/kvaerner/kv"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify DIR URI",
	Short: "Walk a file: table's tree and report any structural inconsistency",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, uri := args[0], args[1]

		ec, err := loadEngineConfig(cmd)
		if err != nil {
			return fmt.Errorf("kvutil: verify: %v", err)
		}
		cfg := kv.DefaultConfig(dir)
		cfg.NoBackground = true
		kv.ApplyEngineConfig(&cfg, ec)

		db, err := kv.Open(cfg)
		if err != nil {
			return fmt.Errorf("kvutil: verify: open %s: %v", dir, err)
		}
		defer db.Close()

		report, err := db.Verify(uri)
		if err != nil {
			return fmt.Errorf("kvutil: verify: %s: %v", uri, err)
		}

		fmt.Printf("%s: ok (%d pages, %d leaves visited)\n", uri, report.PagesVisited, report.LeavesVisited)
		return nil
	},
}
