package main

import (
	"fmt"

	"github.com/cuemby/kvaerner/kv"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan DIR URI",
	Short: "Print every visible key/value pair in a table, in key order",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, uri := args[0], args[1]

		ec, err := loadEngineConfig(cmd)
		if err != nil {
			return fmt.Errorf("kvutil: scan: %v", err)
		}
		cfg := kv.DefaultConfig(dir)
		cfg.NoBackground = true
		kv.ApplyEngineConfig(&cfg, ec)

		db, err := kv.Open(cfg)
		if err != nil {
			return fmt.Errorf("kvutil: scan: open %s: %v", dir, err)
		}
		defer db.Close()

		s := db.OpenSession()
		defer s.Close()

		c, err := s.OpenCursor(uri)
		if err != nil {
			return fmt.Errorf("kvutil: scan: %s: %v", uri, err)
		}
		defer c.Close()

		count := 0
		ok, err := c.First()
		if err != nil {
			return fmt.Errorf("kvutil: scan: %s: %v", uri, err)
		}
		for ok {
			key, value, visible := c.Value()
			if visible {
				fmt.Printf("%s\t%s\n", key, value)
				count++
			}
			ok, err = c.Next()
			if err != nil {
				return fmt.Errorf("kvutil: scan: %s: %v", uri, err)
			}
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%d entries\n", count)
		return nil
	},
}
