package main

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/puffrig/go-controller/internal/control"
)

const defaultControlAddr = "localhost:50061"

var (
	ctlAddr    string
	ctlTimeout time.Duration
)

var ctlCmd = &cobra.Command{
	Use:   "ctl <command>",
	Short: "Send a command to a running session",
	Long: `Send one operator command to the control service of a running session, or
fetch its status with "status".

Examples:
  rig ctl pause
  rig ctl note: subject groomed during ITI
  rig ctl mask: 10,8 50,8 50,40 10,40
  rig ctl status --addr rig2:50061`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := ctlAddr
		if addr == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			addr = cfg.Control.Addr
		}
		if addr == "" {
			addr = defaultControlAddr
		}

		client, err := control.NewClient(addr)
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), ctlTimeout)
		defer cancel()

		line := strings.Join(args, " ")
		var resp map[string]any
		if line == "status" {
			resp, err = client.Status(ctx)
		} else {
			resp, err = client.Command(ctx, line)
		}
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp)
	},
}

func init() {
	ctlCmd.Flags().StringVar(&ctlAddr, "addr", "", "control service address (default: control.addr or "+defaultControlAddr+")")
	ctlCmd.Flags().DurationVar(&ctlTimeout, "timeout", 5*time.Second, "RPC timeout")
	rootCmd.AddCommand(ctlCmd)
}
