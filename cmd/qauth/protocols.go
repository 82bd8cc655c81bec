package main

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/pzverkov/quantum-auth/pkg/auth"
	"github.com/pzverkov/quantum-auth/pkg/bits"
	"github.com/pzverkov/quantum-auth/pkg/libarnum"
	"github.com/pzverkov/quantum-auth/pkg/pingpong"
	"github.com/pzverkov/quantum-auth/pkg/zawadzki"
)

// engine adapts one protocol's prover and verifier to a common shape.
// Li-Barnum ignores the key; the others ignore whichever argument their
// role does not use.
type engine struct {
	usesKey bool
	prove   func(ctx context.Context, cfg auth.Config, key bits.Bits, peer string) error
	verify  func(ctx context.Context, cfg auth.Config, key bits.Bits, peer string) (bool, error)
}

var engines = map[string]engine{
	libarnum.Protocol: {
		prove: func(ctx context.Context, cfg auth.Config, _ bits.Bits, peer string) error {
			c := libarnum.DefaultConfig(cfg.Node, cfg.Dialer)
			c.Config = cfg
			p, err := libarnum.NewProver(c)
			if err != nil {
				return err
			}
			return p.Authenticate(ctx, peer)
		},
		verify: func(ctx context.Context, cfg auth.Config, _ bits.Bits, _ string) (bool, error) {
			c := libarnum.DefaultConfig(cfg.Node, cfg.Dialer)
			c.Config = cfg
			v, err := libarnum.NewVerifier(c)
			if err != nil {
				return false, err
			}
			return v.Authenticate(ctx)
		},
	},
	pingpong.Protocol: {
		usesKey: true,
		prove: func(ctx context.Context, cfg auth.Config, key bits.Bits, peer string) error {
			c := pingpong.DefaultConfig(cfg.Node, cfg.Dialer)
			c.Config = cfg
			p, err := pingpong.NewProver(c)
			if err != nil {
				return err
			}
			_, err = p.Authenticate(ctx, key, peer)
			return err
		},
		verify: func(ctx context.Context, cfg auth.Config, key bits.Bits, peer string) (bool, error) {
			c := pingpong.DefaultConfig(cfg.Node, cfg.Dialer)
			c.Config = cfg
			v, err := pingpong.NewVerifier(c)
			if err != nil {
				return false, err
			}
			res, err := v.Authenticate(ctx, key, peer)
			return res.OK, err
		},
	},
	zawadzki.Protocol: {
		usesKey: true,
		prove: func(ctx context.Context, cfg auth.Config, key bits.Bits, peer string) error {
			c := zawadzki.DefaultConfig(cfg.Node, cfg.Dialer)
			c.Config = cfg
			p, err := zawadzki.NewProver(c)
			if err != nil {
				return err
			}
			return p.Authenticate(ctx, key, peer)
		},
		verify: func(ctx context.Context, cfg auth.Config, key bits.Bits, _ string) (bool, error) {
			c := zawadzki.DefaultConfig(cfg.Node, cfg.Dialer)
			c.Config = cfg
			v, err := zawadzki.NewVerifier(c)
			if err != nil {
				return false, err
			}
			return v.Authenticate(ctx, key)
		},
	},
}

func protocolNames() []string {
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupEngine(name string) (engine, error) {
	e, ok := engines[name]
	if !ok {
		return engine{}, errors.Errorf("unknown protocol %q (use one of %v)", name, protocolNames())
	}
	return e, nil
}

// parseKey parses the --key flag for protocols that need one.
func parseKey(e engine, s string) (bits.Bits, error) {
	if !e.usesKey {
		return nil, nil
	}
	if s == "" {
		return nil, errors.New("--key is required for this protocol")
	}
	k, err := bits.ParseKey(s)
	return k, errors.Wrap(err, "--key")
}
