package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"keymapd/internal/device"
)

func newDevicesCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List candidate input devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := device.ListDevices()
			if err != nil {
				return err
			}
			n := 0
			for _, info := range infos {
				if !info.Keyboard && !all {
					continue
				}
				fmt.Println(info.String())
				n++
			}
			if n == 0 {
				fmt.Println("No keyboard devices found (try --all).")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include non-keyboard devices")
	return cmd
}
