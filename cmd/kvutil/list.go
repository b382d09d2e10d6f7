package main

import (
	"fmt"

	"github.com/cuemby/kvaerner/kv"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "dump-metadata DIR",
	Short: "Print every table's URI and stored config string",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]

		ec, err := loadEngineConfig(cmd)
		if err != nil {
			return fmt.Errorf("kvutil: dump-metadata: %v", err)
		}
		cfg := kv.DefaultConfig(dir)
		cfg.NoBackground = true
		kv.ApplyEngineConfig(&cfg, ec)

		db, err := kv.Open(cfg)
		if err != nil {
			return fmt.Errorf("kvutil: dump-metadata: open %s: %v", dir, err)
		}
		defer db.Close()

		tables, err := db.ListTables()
		if err != nil {
			return fmt.Errorf("kvutil: dump-metadata: %v", err)
		}
		for _, uri := range tables {
			configStr, ok, err := db.TableConfig(uri)
			if err != nil {
				return fmt.Errorf("kvutil: dump-metadata: %s: %v", uri, err)
			}
			if !ok {
				continue
			}
			fmt.Printf("%s\t%s\n", uri, configStr)
		}
		return nil
	},
}
