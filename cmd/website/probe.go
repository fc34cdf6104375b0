package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"dqx0.com/go/website/httpx"
)

var probeFlags struct {
	addr    string
	path    string
	method  string
	count   int
	timeout time.Duration
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Send pipelined requests to a running server",
	Long: `Open one connection, write all requests back to back and print each
response in the order it arrives.

Examples:
  website probe --addr 127.0.0.1:8080 --path /hello --count 5`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().StringVar(&probeFlags.addr, "addr", "[::1]:8080", "server address (host:port)")
	probeCmd.Flags().StringVar(&probeFlags.path, "path", "/", "request target")
	probeCmd.Flags().StringVar(&probeFlags.method, "method", "GET", "request method")
	probeCmd.Flags().IntVarP(&probeFlags.count, "count", "n", 1, "number of pipelined requests")
	probeCmd.Flags().DurationVar(&probeFlags.timeout, "timeout", 5*time.Second, "overall timeout")
}

func runProbe(cmd *cobra.Command, _ []string) error {
	if probeFlags.count < 1 {
		return fmt.Errorf("count must be at least 1, got %d", probeFlags.count)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), probeFlags.timeout)
	defer cancel()

	cc, err := (&httpx.Client{}).Dial(ctx, probeFlags.addr)
	if err != nil {
		return err
	}
	defer cc.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = cc.SetDeadline(dl)
	}

	runID := uuid.NewString()
	for i := 0; i < probeFlags.count; i++ {
		rctx := httpx.WithRequestID(ctx, fmt.Sprintf("%s-%d", runID, i))
		req := httpx.WithContext(&httpx.Request{
			Method:     probeFlags.method,
			RequestURI: probeFlags.path,
			Header:     httpx.Header{"X-Correlation-Id": {runID}},
		}, rctx)
		if err := cc.Send(req); err != nil {
			return fmt.Errorf("send request %d: %w", i, err)
		}
	}

	out := cmd.OutOrStdout()
	for i := 0; i < probeFlags.count; i++ {
		res, err := cc.Receive()
		if err != nil {
			return fmt.Errorf("receive response %d: %w", i, err)
		}
		reason := res.Reason
		if reason == "" {
			reason = httpx.StatusText(res.StatusCode)
		}
		fmt.Fprintf(out, "%s %d %s (%s)\n", res.Proto, res.StatusCode, reason, res.Header.Get("X-Request-ID"))
		if len(res.Body) > 0 {
			fmt.Fprintf(out, "%s\n", res.Body)
		}
	}
	return nil
}
