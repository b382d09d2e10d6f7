package main

import (
	"fmt"

	"github.com/cuemby/kvaerner/kv"
	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get DIR URI KEY",
	Short: "Read one key from a table",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, uri, key := args[0], args[1], args[2]

		ec, err := loadEngineConfig(cmd)
		if err != nil {
			return fmt.Errorf("kvutil: get: %v", err)
		}
		cfg := kv.DefaultConfig(dir)
		cfg.NoBackground = true
		kv.ApplyEngineConfig(&cfg, ec)

		db, err := kv.Open(cfg)
		if err != nil {
			return fmt.Errorf("kvutil: get: open %s: %v", dir, err)
		}
		defer db.Close()

		s := db.OpenSession()
		defer s.Close()

		c, err := s.OpenCursor(uri)
		if err != nil {
			return fmt.Errorf("kvutil: get: %s: %v", uri, err)
		}
		defer c.Close()

		exact, err := c.Seek([]byte(key))
		if err != nil {
			return fmt.Errorf("kvutil: get: %s: %v", uri, err)
		}
		if !exact {
			return fmt.Errorf("kvutil: get: %s: key not found", uri)
		}
		_, value, ok := c.Value()
		if !ok {
			return fmt.Errorf("kvutil: get: %s: key not found", uri)
		}
		fmt.Println(string(value))
		return nil
	},
}
