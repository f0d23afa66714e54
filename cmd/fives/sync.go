package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	e "github.com/gartstein/fives/internal/fives/errors"
	"github.com/gartstein/fives/internal/fives/handlers"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

type syncOptions struct {
	server     string
	token      string
	statusOnly bool
	setOnline  string
}

func newSyncCommand(a *app) *cobra.Command {
	opts := &syncOptions{}
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a forced sync pass, locally or on a running service",
		Long: "Without --server the pass runs in this process against the local cache.\n" +
			"With --server the running service is asked over gRPC.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.server != "" {
				return a.syncRemote(cmd.Context(), cmd.OutOrStdout(), opts)
			}
			return a.syncLocal(cmd.Context(), cmd.OutOrStdout(), opts.statusOnly)
		},
	}
	cmd.Flags().StringVar(&opts.server, "server", "", "gRPC address of a running service")
	cmd.Flags().StringVar(&opts.token, "token", "", "bearer token for --server, defaults to auth.token")
	cmd.Flags().BoolVar(&opts.statusOnly, "status", false, "print the sync status without running a pass")
	cmd.Flags().StringVar(&opts.setOnline, "connectivity", "", "with --server, force the service \"online\" or \"offline\"")
	return cmd
}

func (a *app) syncLocal(ctx context.Context, out io.Writer, statusOnly bool) error {
	l, err := a.openLocal(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	orch := l.orchestrator(a, nil, nil)
	if statusOnly {
		return printJSON(out, orch.Status(ctx))
	}
	if !orch.Probe(ctx) {
		return e.ErrOffline
	}
	result, err := orch.Sync(ctx, true)
	if err != nil {
		return err
	}
	return printJSON(out, result)
}

func (a *app) syncRemote(ctx context.Context, out io.Writer, opts *syncOptions) error {
	conn, err := grpc.NewClient(opts.server, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", opts.server, err)
	}
	defer conn.Close()

	token := opts.token
	if token == "" {
		token = a.cfg.Auth.Token
	}
	if token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	}
	client := handlers.NewSyncClient(conn)

	switch {
	case opts.setOnline != "":
		if opts.setOnline != "online" && opts.setOnline != "offline" {
			return fmt.Errorf("%w: connectivity must be online or offline", e.ErrInvalidInput)
		}
		resp, err := client.SetConnectivity(ctx, &handlers.SetConnectivityRequest{Online: opts.setOnline == "online"})
		if err != nil {
			return err
		}
		return printJSON(out, resp)
	case opts.statusOnly:
		resp, err := client.Status(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, resp)
	default:
		resp, err := client.TriggerSync(ctx, &handlers.TriggerSyncRequest{Wait: true})
		if err != nil {
			return err
		}
		return printJSON(out, resp)
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
