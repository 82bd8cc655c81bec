package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/pzverkov/quantum-auth/internal/constants"
	"github.com/pzverkov/quantum-auth/pkg/auth"
	"github.com/pzverkov/quantum-auth/pkg/backend"
	"github.com/pzverkov/quantum-auth/pkg/link"
)

// roleFlags are shared by prove and verify.
type roleFlags struct {
	backend     string
	node        string
	peer        string
	key         string
	recvTimeout time.Duration
	timeout     time.Duration
}

func (f *roleFlags) register(cmd *cobra.Command, node, peer string) {
	cmd.Flags().StringVar(&f.backend, "backend", "127.0.0.1:7420", "backend address")
	cmd.Flags().StringVar(&f.node, "node", node, "this node's name")
	cmd.Flags().StringVar(&f.peer, "peer", peer, "the other party's node name")
	cmd.Flags().StringVar(&f.key, "key", "", "shared secret key as a bit string (ping-pong, zawadzki)")
	cmd.Flags().DurationVar(&f.recvTimeout, "recv-timeout", constants.DefaultRecvTimeout, "bound on each qubit or message receive")
	cmd.Flags().DurationVar(&f.timeout, "timeout", time.Minute, "bound on the whole session")
}

func (f *roleFlags) config(obs *observability) auth.Config {
	lc := link.DefaultConfig()
	lc.Observer = obs.linkObserver()
	return auth.Config{
		Node:        f.node,
		Dialer:      backend.NewClient(f.backend, backend.WithLinkConfig(lc)),
		Logger:      obs.logger,
		Observer:    obs.authObserver(),
		RecvTimeout: f.recvTimeout,
	}
}

func proveCmd(obs *observability) *cobra.Command {
	var f roleFlags
	cmd := &cobra.Command{
		Use:       "prove <protocol>",
		Short:     "Prove this node's identity to a verifier through a backend",
		Example:   `  qauth prove zawadzki --node alice --peer bob --key 1010110100111000`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: protocolNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := lookupEngine(args[0])
			if err != nil {
				return err
			}
			key, err := parseKey(e, f.key)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
			defer cancel()
			if err := e.prove(ctx, f.config(obs), key, f.peer); err != nil {
				return errors.Wrapf(err, "%s prover", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: proof sent to %s\n", args[0], f.peer)
			return nil
		},
	}
	f.register(cmd, "alice", "bob")
	return cmd
}

func verifyCmd(obs *observability) *cobra.Command {
	var f roleFlags
	cmd := &cobra.Command{
		Use:       "verify <protocol>",
		Short:     "Verify a prover's identity through a backend",
		Example:   `  qauth verify zawadzki --node bob --peer alice --key 1010110100111000`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: protocolNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := lookupEngine(args[0])
			if err != nil {
				return err
			}
			key, err := parseKey(e, f.key)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
			defer cancel()
			ok, err := e.verify(ctx, f.config(obs), key, f.peer)
			if err != nil {
				return errors.Wrapf(err, "%s verifier", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], verdict(ok))
			if !ok {
				return errors.New("authentication denied")
			}
			return nil
		},
	}
	f.register(cmd, "bob", "alice")
	return cmd
}

func verdict(ok bool) string {
	if ok {
		return "AUTHENTICATED"
	}
	return "DENIED"
}
