package main

import (
	"fmt"

	"github.com/cuemby/kvaerner/kv"
	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:   "create DIR URI [CONFIG]",
	Short: "Create a new file: or lsm: table",
	Long: `Create a new table under URI ("file:name" or "lsm:name"), with an
optional config string such as "block_compressor=zstd" or
"lsm.chunk_size=64MB".`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, uri := args[0], args[1]
		configStr := ""
		if len(args) == 3 {
			configStr = args[2]
		}

		ec, err := loadEngineConfig(cmd)
		if err != nil {
			return fmt.Errorf("kvutil: create: %v", err)
		}
		cfg := kv.DefaultConfig(dir)
		kv.ApplyEngineConfig(&cfg, ec)

		db, err := kv.Open(cfg)
		if err != nil {
			return fmt.Errorf("kvutil: create: open %s: %v", dir, err)
		}
		defer db.Close()

		s := db.OpenSession()
		defer s.Close()

		if err := s.Create(uri, configStr); err != nil {
			return fmt.Errorf("kvutil: create: %s: %v", uri, err)
		}
		fmt.Printf("created %s\n", uri)
		return nil
	},
}
