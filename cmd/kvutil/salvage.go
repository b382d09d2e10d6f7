package main

import (
	"fmt"

	"github.com/cuemby/kvaerner/kv"
	"github.com/spf13/cobra"
)

var salvageCmd = &cobra.Command{
	Use:   "salvage DIR URI",
	Short: "Rebuild a file: table's free-extent list from a page-by-page scan",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, uri := args[0], args[1]

		ec, err := loadEngineConfig(cmd)
		if err != nil {
			return fmt.Errorf("kvutil: salvage: %v", err)
		}
		cfg := kv.DefaultConfig(dir)
		cfg.NoBackground = true
		kv.ApplyEngineConfig(&cfg, ec)

		db, err := kv.Open(cfg)
		if err != nil {
			return fmt.Errorf("kvutil: salvage: open %s: %v", dir, err)
		}
		defer db.Close()

		report, err := db.Salvage(uri)
		if err != nil {
			return fmt.Errorf("kvutil: salvage: %s: %v", uri, err)
		}

		fmt.Printf("%s: recovered %d pages (%d bytes), discarded %d pages (%d bytes)\n",
			uri, report.PagesRecovered, report.BytesRecovered, report.PagesDiscarded, report.BytesDiscarded)
		return nil
	},
}
