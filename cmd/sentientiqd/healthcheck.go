package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newHealthcheckCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check a running sentientiqd instance's /healthz endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 2 * time.Second}
			resp, err := client.Get("http://" + addr + "/healthz")
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(exitUnavailable)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				os.Exit(exitUnavailable)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "address of the running instance")
	return cmd
}
