// Package main is a thin manual-exercise CLI over internal/client: it
// exists so a developer can drive a running labrig-agent from a shell
// without writing Go.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/labrig/agent/internal/client"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var addr string

	root := &cobra.Command{
		Use:   "labrig-client",
		Short: "labrig-client — manual JSON-RPC exerciser for labrig-agent",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:7777", "agent RPC address")

	root.AddCommand(newStartJobCmd(&addr))
	root.AddCommand(newJobStatusCmd(&addr))
	root.AddCommand(newJobResultCmd(&addr))
	root.AddCommand(newVersionCmd(&addr))
	root.AddCommand(newHeartbeatCmd(&addr))

	return root
}

func newStartJobCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start-job <program> [args...]",
		Short: "Start a job and print its id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(*addr)
			id, err := c.StartJob(args[0], args[1:])
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
}

func newJobStatusCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "job-status <id>",
		Short: "Print whether a job has completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q: %w", args[0], err)
			}
			c := client.New(*addr)
			done, err := c.IsJobComplete(id)
			if err != nil {
				return err
			}
			fmt.Println(done)
			return nil
		},
	}
}

func newJobResultCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "job-result <id>",
		Short: "Print a completed job's buffered output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q: %w", args[0], err)
			}
			c := client.New(*addr)
			result, err := c.GetJobResult(id)
			if err != nil {
				return err
			}
			fmt.Println(result)
			return nil
		},
	}
}

func newVersionCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agent's reported version",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(*addr)
			version, err := c.GetVersion()
			if err != nil {
				return err
			}
			fmt.Println(version)
			return nil
		},
	}
}

func newHeartbeatCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "heartbeat",
		Short: "Check that the agent is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(*addr)
			_, err := c.GetHeartbeat()
			if err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}
