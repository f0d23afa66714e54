package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	e "github.com/gartstein/fives/internal/fives/errors"
	"github.com/gartstein/fives/internal/fives/models"
	"github.com/spf13/cobra"
)

func newQueueCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and repair the pending sync queue",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List operations waiting to be replayed",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withQueue(cmd.Context(), func(l *local) error {
					ops, err := l.queue.Pending(cmd.Context(), true)
					if err != nil {
						return err
					}
					printOperations(cmd.OutOrStdout(), ops)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "dead-letters",
			Short: "List operations that exhausted their retries",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withQueue(cmd.Context(), func(l *local) error {
					ops, err := l.queue.DeadLetters(cmd.Context())
					if err != nil {
						return err
					}
					printOperations(cmd.OutOrStdout(), ops)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "requeue <seq>",
			Short: "Return a dead-lettered operation to the queue",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				seq, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("%w: sequence %q", e.ErrInvalidInput, args[0])
				}
				return a.withQueue(cmd.Context(), func(l *local) error {
					if err := l.queue.Requeue(cmd.Context(), seq); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "requeued %d\n", seq)
					return nil
				})
			},
		},
	)
	return cmd
}

func (a *app) withQueue(ctx context.Context, fn func(*local) error) error {
	l, err := a.openLocal(ctx)
	if err != nil {
		return err
	}
	defer l.Close()
	return fn(l)
}

func printOperations(out io.Writer, ops []models.Operation) {
	if len(ops) == 0 {
		fmt.Fprintln(out, "no operations")
		return
	}
	for _, op := range ops {
		fmt.Fprintf(out, "%d\t%s\t%s\t%s\tattempts=%d\t%s\n",
			op.Seq, op.Kind, op.Table, op.RecordID, op.Attempts, op.LastError)
	}
}
