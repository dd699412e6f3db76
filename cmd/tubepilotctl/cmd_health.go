package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var (
	healthAddr    string
	healthTimeout time.Duration
)

// healthCmd probes a running server over gRPC health.
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Query the server's gRPC health endpoint",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := healthAddr
		if addr == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			addr = cfg.Server.GRPCAddr
		}
		conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("dial %s: %w", addr, err)
		}
		defer conn.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
		defer cancel()
		resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
		if err != nil {
			return fmt.Errorf("health check %s: %w", addr, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", addr, resp.GetStatus())
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			return fmt.Errorf("%s is %s", addr, resp.GetStatus())
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().StringVar(&healthAddr, "addr", "", "gRPC address (default: server.grpc_addr)")
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 3*time.Second, "Probe timeout")
}
