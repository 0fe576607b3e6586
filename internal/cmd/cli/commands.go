package cli

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	runtimepkg "github.com/drblury/cekafka/internal/runtime"
	configpkg "github.com/drblury/cekafka/internal/runtime/config"
	"github.com/drblury/cekafka/internal/runtime/jsoncodec"
	"github.com/drblury/cekafka/internal/runtime/model"
)

func newProduceCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "produce",
		Aliases: []string{"serve"},
		Short:   "Serve the customer ingest endpoint and publish what it receives",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("http")
			withConsumer, _ := cmd.Flags().GetBool("with-consumer")
			if addr != "" {
				opts.sets = append(opts.sets, "http.address="+addr)
			}

			svc, err := opts.service(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if _, err := svc.StartProducer(ctx); err != nil {
				return errors.Join(err, svc.Close(context.WithoutCancel(ctx)))
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return svc.Serve(gctx) })
			if withConsumer {
				g.Go(func() error { return svc.RunConsumer(gctx) })
			}
			err = g.Wait()
			return errors.Join(err, svc.Close(context.WithoutCancel(ctx)))
		},
	}
	cmd.Flags().String("http", "", "listen address of the ingest endpoint (overrides http.address)")
	cmd.Flags().Bool("with-consumer", false, "also consume the topic in the same process")
	return cmd
}

func newSendCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Publish customer records and print their receipts",
		RunE: func(cmd *cobra.Command, args []string) error {
			firstName, _ := cmd.Flags().GetString("first-name")
			lastName, _ := cmd.Flags().GetString("last-name")
			customerID, _ := cmd.Flags().GetInt64("customer-id")
			count, _ := cmd.Flags().GetInt("count")
			if count < 1 {
				return fmt.Errorf("--count must be positive, got %d", count)
			}

			svc, err := opts.service(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			customer := model.Customer{FirstName: firstName, LastName: lastName, CustomerID: customerID}

			var sendErr error
			for i := 0; i < count; i++ {
				receipt, err := svc.Publish(ctx, customer)
				if err != nil {
					sendErr = err
					break
				}
				if err := jsoncodec.Encode(cmd.OutOrStdout(), receipt); err != nil {
					sendErr = err
					break
				}
			}
			return errors.Join(sendErr, svc.Close(context.WithoutCancel(ctx)))
		},
	}
	cmd.Flags().String("first-name", "", "customer first name")
	cmd.Flags().String("last-name", "", "customer last name, drives the partition")
	cmd.Flags().Int64("customer-id", 0, "customer id, the base of the record key")
	cmd.Flags().Int("count", 1, "number of records to send")
	_ = cmd.MarkFlagRequired("last-name")
	_ = cmd.MarkFlagRequired("customer-id")
	return cmd
}

func newConsumeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Poll the topic and log every customer record",
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, _ := cmd.Flags().GetString("policy")
			if policy != "" {
				opts.sets = append(opts.sets, "record.policy="+policy)
			}

			svc, err := opts.service(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, cancel := withDuration(cmd)
			defer cancel()

			err = svc.RunConsumer(ctx)
			return errors.Join(err, svc.Close(context.WithoutCancel(ctx)))
		},
	}
	cmd.Flags().String("policy", "", "record policy: skip, dead-letter or halt (overrides record.policy)")
	cmd.Flags().Duration("duration", 0, "stop after this long, zero runs until interrupted")
	return cmd
}

func newDeadLettersCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "Print the records parked on the dead-letter topic as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.service(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, cancel := withDuration(cmd)
			defer cancel()

			var mu sync.Mutex
			err = svc.TailDeadLetters(ctx, func(_ context.Context, dl runtimepkg.DeadLetter) error {
				mu.Lock()
				defer mu.Unlock()
				return jsoncodec.Encode(cmd.OutOrStdout(), dl)
			})
			return errors.Join(err, svc.Close(context.WithoutCancel(ctx)))
		},
	}
	cmd.Flags().Duration("duration", 0, "stop after this long, zero runs until interrupted")
	return cmd
}

func newConfigCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if listKeys, _ := cmd.Flags().GetBool("keys"); listKeys {
				for _, key := range configpkg.Keys() {
					fmt.Fprintf(out, "%s\t%s\n", key, configpkg.EnvName(key))
				}
				return nil
			}

			conf, ignored, err := opts.config()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, conf.String())
			for _, key := range ignored {
				fmt.Fprintf(out, "ignored: %s\n", key)
			}
			if validate, _ := cmd.Flags().GetBool("validate"); validate {
				return conf.Validate()
			}
			return nil
		},
	}
	cmd.Flags().Bool("keys", false, "list the recognised property names and their environment variables")
	cmd.Flags().Bool("validate", false, "fail when the configuration is invalid")
	return cmd
}

func withDuration(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	d, _ := cmd.Flags().GetDuration("duration")
	if d > 0 {
		return context.WithTimeout(cmd.Context(), d)
	}
	return context.WithCancel(cmd.Context())
}
