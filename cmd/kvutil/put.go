package main

import (
	"fmt"

	"github.com/cuemby/kvaerner/kv"
	"github.com/spf13/cobra"
)

var putCmd = &cobra.Command{
	Use:   "put DIR URI KEY VALUE",
	Short: "Autocommit-insert one key/value pair into an open table",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, uri, key, value := args[0], args[1], args[2], args[3]

		ec, err := loadEngineConfig(cmd)
		if err != nil {
			return fmt.Errorf("kvutil: put: %v", err)
		}
		cfg := kv.DefaultConfig(dir)
		kv.ApplyEngineConfig(&cfg, ec)

		db, err := kv.Open(cfg)
		if err != nil {
			return fmt.Errorf("kvutil: put: open %s: %v", dir, err)
		}
		defer db.Close()

		s := db.OpenSession()
		defer s.Close()

		c, err := s.OpenCursor(uri)
		if err != nil {
			return fmt.Errorf("kvutil: put: %s: %v", uri, err)
		}
		defer c.Close()

		if err := c.Insert([]byte(key), []byte(value)); err != nil {
			return fmt.Errorf("kvutil: put: %s: %v", uri, err)
		}
		return nil
	},
}
