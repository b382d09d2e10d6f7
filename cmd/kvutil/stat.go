package main

import (
	"fmt"

	"github.com/cuemby/kvaerner/kv"
	"github.com/spf13/cobra"
)

var statCmd = &cobra.Command{
	Use:   "stat DIR",
	Short: "Open DIR, run recovery and a checkpoint, and report its tables",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]

		ec, err := loadEngineConfig(cmd)
		if err != nil {
			return fmt.Errorf("kvutil: stat: %v", err)
		}
		cfg := kv.DefaultConfig(dir)
		kv.ApplyEngineConfig(&cfg, ec)

		db, err := kv.Open(cfg)
		if err != nil {
			return fmt.Errorf("kvutil: stat: open %s: %v", dir, err)
		}
		defer db.Close()

		tables, err := db.ListTables()
		if err != nil {
			return fmt.Errorf("kvutil: stat: list tables: %v", err)
		}

		fmt.Printf("database: %s\n", dir)
		fmt.Printf("tables: %d\n", len(tables))
		for _, uri := range tables {
			fmt.Printf("  %s\n", uri)
		}
		return nil
	},
}
