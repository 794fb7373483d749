package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/config"
	"github.com/DeBrosOfficial/hyperdrive/pkg/logging"
	"github.com/DeBrosOfficial/hyperdrive/pkg/node"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	"github.com/spf13/cobra"
)

type execOptions struct {
	category       string
	payload        string
	payloadFile    string
	idempotencyKey string
	replication    string
	replicas       int
	required       int
	timeout        time.Duration
	verified       bool
	only           string
	raw            bool
}

func newExecCmd(load configLoader) *cobra.Command {
	var opts execOptions

	cmd := &cobra.Command{
		Use:   "exec <kind> [target]",
		Short: "Run one operation in-process against the configured providers",
		Long: `Run one operation against the providers of the configuration file without
starting the gateway or health gossip. The result envelope is printed as JSON.

Examples:
  hyperdrive exec save user-1 --payload '{"name":"ada"}' --replication quorum --replicas 3 --key k1
  hyperdrive exec load user-1 --verified
  hyperdrive exec search user- --only primary,replica`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runExec(cmd, cfg, args, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.category, "category", "", "Provider category (document_store, key_value, sql_database, content_store, blockchain)")
	f.StringVarP(&opts.payload, "payload", "p", "", "Operation payload")
	f.StringVar(&opts.payloadFile, "payload-file", "", "Read the payload from a file, - for stdin")
	f.StringVar(&opts.idempotencyKey, "key", "", "Idempotency key")
	f.StringVar(&opts.replication, "replication", "none", "Replication mode: none, best_effort or quorum")
	f.IntVar(&opts.replicas, "replicas", 0, "Quorum replica set size")
	f.IntVar(&opts.required, "required", 0, "Quorum acknowledgements, default a strict majority")
	f.DurationVar(&opts.timeout, "timeout", 0, "Overall deadline, default from configuration")
	f.BoolVar(&opts.verified, "verified", false, "Read from several providers and resolve disagreements")
	f.StringVar(&opts.only, "only", "", "Comma-separated provider IDs to route to")
	f.BoolVar(&opts.raw, "raw", false, "Print only the value data")
	return cmd
}

func runExec(cmd *cobra.Command, cfg *config.Config, args []string, opts execOptions) error {
	op, err := opts.operation(cmd, cfg, args)
	if err != nil {
		return err
	}
	if err := validate(cmd, cfg); err != nil {
		return err
	}

	cfg.Gateway.Enabled = false
	cfg.Events.Enabled = false
	if cfg.Logging.OutputFile == "" {
		cfg.Logging.Level = "error"
	}

	logger, err := logging.NewLogger(cfg.Logger())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	n, err := node.NewNode(cfg, logger)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if err := n.Start(ctx); err != nil {
		return fmt.Errorf("failed to start providers: %w", err)
	}
	defer n.Stop(context.Background())

	res := n.Manager().Execute(ctx, op)

	if opts.raw && !res.IsError() {
		if v, ok := res.Value(); ok {
			_, err := cmd.OutOrStdout().Write(v.Data)
			return err
		}
		return nil
	}

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	if res.IsError() {
		return fmt.Errorf("%s: %s", res.ErrorKind(), res.Message())
	}
	return nil
}

func (o execOptions) operation(cmd *cobra.Command, cfg *config.Config, args []string) (provider.Operation, error) {
	kind, err := provider.ParseOperationKind(args[0])
	if err != nil {
		return provider.Operation{}, err
	}
	op := provider.Operation{
		Kind:           kind,
		IdempotencyKey: o.idempotencyKey,
		Timeout:        o.timeout,
		VerifiedRead:   o.verified,
	}
	if len(args) > 1 {
		op.TargetID = args[1]
	}
	if o.category != "" {
		if op.Category, err = provider.ParseCategory(o.category); err != nil {
			return provider.Operation{}, err
		}
	}
	if op.Replication, err = provider.ParseReplication(o.replication, o.replicas, o.required); err != nil {
		return provider.Operation{}, err
	}

	switch {
	case o.payload != "" && o.payloadFile != "":
		return provider.Operation{}, fmt.Errorf("--payload and --payload-file are mutually exclusive")
	case o.payloadFile == "-":
		op.Payload, err = io.ReadAll(cmd.InOrStdin())
	case o.payloadFile != "":
		op.Payload, err = os.ReadFile(o.payloadFile)
	default:
		op.Payload = []byte(o.payload)
	}
	if err != nil {
		return provider.Operation{}, fmt.Errorf("failed to read payload: %w", err)
	}

	if o.only != "" {
		ids, errs := config.ParseProviderList(o.only, cfg.ProviderIDs())
		if len(errs) > 0 {
			out := cmd.ErrOrStderr()
			for _, e := range errs {
				fmt.Fprintf(out, "  - %v\n", e)
			}
			return provider.Operation{}, fmt.Errorf("invalid --only provider list")
		}
		op.Providers = ids
	}
	return op, nil
}
