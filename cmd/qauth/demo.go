package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/pzverkov/quantum-auth/pkg/auth"
	"github.com/pzverkov/quantum-auth/pkg/backend"
	"github.com/pzverkov/quantum-auth/pkg/bits"
	"github.com/pzverkov/quantum-auth/pkg/quantum"
	"github.com/pzverkov/quantum-auth/pkg/sim"
)

type demoOptions struct {
	backend  string
	key      string
	wrongKey string
	seed     uint64
	rounds   int
	timeout  time.Duration
}

func demoCmd(obs *observability) *cobra.Command {
	var opts demoOptions
	cmd := &cobra.Command{
		Use:   "demo [protocol...]",
		Short: "Run prover and verifier side by side and report verdicts",
		Long: `Run both roles of each protocol in one process. By default the
nodes share an in-process simulator; --backend runs them through a remote
backend instead. --wrong-key gives the prover a different key to show a
denial.`,
		Example: `  qauth demo
  qauth demo zawadzki --wrong-key 0101001011000111 --rounds 5
  qauth demo --backend 127.0.0.1:7420`,
		ValidArgs: protocolNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = protocolNames()
			}
			if opts.rounds < 1 {
				return errors.Errorf("--rounds must be positive, got %d", opts.rounds)
			}
			return runDemo(cmd.Context(), cmd.OutOrStdout(), obs, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.backend, "backend", "", "backend address (empty uses an in-process simulator)")
	cmd.Flags().StringVar(&opts.key, "key", "1010110100111000", "shared secret key")
	cmd.Flags().StringVar(&opts.wrongKey, "wrong-key", "", "key given to the prover instead of --key")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 0, "simulator measurement seed (0 uses hardware randomness)")
	cmd.Flags().IntVar(&opts.rounds, "rounds", 1, "sessions per protocol")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "bound on each session")
	return cmd
}

func runDemo(ctx context.Context, out io.Writer, obs *observability, names []string, opts demoOptions) error {
	verifierKey, err := bits.ParseKey(opts.key)
	if err != nil {
		return errors.Wrap(err, "--key")
	}
	proverKey := verifierKey
	if opts.wrongKey != "" {
		if proverKey, err = bits.ParseKey(opts.wrongKey); err != nil {
			return errors.Wrap(err, "--wrong-key")
		}
	}

	var dialer quantum.Dialer
	if opts.backend != "" {
		dialer = backend.NewClient(opts.backend)
	} else {
		simOpts := []sim.Option{sim.WithLogger(obs.logger)}
		if opts.seed != 0 {
			simOpts = append(simOpts, sim.WithSeed(opts.seed))
		}
		dialer = sim.NewNetwork(simOpts...)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROTOCOL\tROUND\tVERDICT\tDURATION\tDETAIL")
	for _, name := range names {
		e, err := lookupEngine(name)
		if err != nil {
			return err
		}
		for round := 1; round <= opts.rounds; round++ {
			start := time.Now()
			ok, detail := demoRound(ctx, e, obs, dialer, verifierKey, proverKey, opts.timeout)
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", name, round, verdict(ok), time.Since(start).Round(time.Millisecond), detail)
		}
	}
	return tw.Flush()
}

// demoRound runs bob as verifier and alice as prover.
func demoRound(ctx context.Context, e engine, obs *observability, d quantum.Dialer, verifierKey, proverKey bits.Bits, timeout time.Duration) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	base := func(node string) auth.Config {
		cfg := auth.DefaultConfig(node, d)
		cfg.Logger = obs.logger
		cfg.Observer = obs.authObserver()
		return cfg
	}

	perr := make(chan error, 1)
	go func() { perr <- e.prove(ctx, base("alice"), proverKey, "bob") }()
	ok, verr := e.verify(ctx, base("bob"), verifierKey, "alice")
	proverErr := <-perr

	switch {
	case verr != nil:
		return false, "verifier: " + verr.Error()
	case proverErr != nil:
		return ok, "prover: " + proverErr.Error()
	default:
		return ok, "-"
	}
}
