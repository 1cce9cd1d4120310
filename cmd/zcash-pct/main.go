// zcash-pct drives a partially constructed Zcash transaction through its
// lifecycle: propose, prove, verify, sign, combine and finalize. PCZTs are
// passed between steps as files so each step can run on a different machine.
//
// Example:
//
//	zcash-pct propose --from tm9i... --input <txid>:0:150000 --uri "zcash:u1...?amount=0.001" --out tx.pczt
//	zcash-pct prove --pczt tx.pczt
//	zcash-pct verify --pczt tx.pczt --uri "zcash:u1...?amount=0.001" --change tm9i...:40000
//	zcash-pct sign --pczt tx.pczt --key key.wif
//	zcash-pct finalize --pczt tx.pczt --out tx.raw
//
// With --server every step except sign runs on a zcash-pct server.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	gnarklog "github.com/consensys/gnark/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/suffix-labs/zcash-pct/pkg/address"
	"github.com/suffix-labs/zcash-pct/pkg/api"
	"github.com/suffix-labs/zcash-pct/pkg/configuration"
	"github.com/suffix-labs/zcash-pct/pkg/engine"
	"github.com/suffix-labs/zcash-pct/pkg/fees"
	"github.com/suffix-labs/zcash-pct/pkg/httpclient"
	"github.com/suffix-labs/zcash-pct/pkg/params"
	"github.com/suffix-labs/zcash-pct/pkg/pczt"
	"github.com/suffix-labs/zcash-pct/pkg/roles"
	"github.com/suffix-labs/zcash-pct/pkg/server"
	"github.com/suffix-labs/zcash-pct/pkg/telemetry"
	"github.com/suffix-labs/zcash-pct/pkg/zip321"
)

const usage = `builds, proves, signs and finalizes transparent-to-shielded Zcash transactions as PCZTs`

const remoteTimeout = 15 * time.Minute

// env is what every command needs: configuration, logger and the place
// where operations run.
type env struct {
	cfg     configuration.Configuration
	log     zerolog.Logger
	backend backend
	remote  bool
}

func main() {
	var (
		configFile string
		serverURL  string
		network    string
		logLevel   string
		asJSON     bool
	)

	setup := func(c *cli.Context) (*env, error) {
		cfg, err := configuration.Load(configFile, ".env")
		if err != nil {
			return nil, err
		}
		if network != "" {
			if cfg.Network, err = params.ParseNetwork(network); err != nil {
				return nil, err
			}
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}

		log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			Level(cfg.Level()).With().Timestamp().Logger()
		gnarklog.Set(log.With().Str("component", "gnark").Logger().Level(zerolog.WarnLevel))

		e := &env{cfg: cfg, log: log}
		if serverURL != "" {
			e.backend = remote{httpclient.New(serverURL, remoteTimeout)}
			e.remote = true
			return e, nil
		}
		m := api.New(api.WithEngine(engine.New(cfg.Engine, log)), api.WithLogger(log))
		e.backend = local{m: m, net: cfg.Network}
		return e, nil
	}

	pcztFlag := func(dst *string) *cli.StringFlag {
		return &cli.StringFlag{
			Name:        "pczt",
			Aliases:     []string{"p"},
			Usage:       "Path to the PCZT `FILE`.",
			Destination: dst,
			Required:    true,
		}
	}
	outFlag := func(dst *string, usage string) *cli.StringFlag {
		return &cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: usage, Destination: dst}
	}

	var (
		pcztFile string
		outFile  string
		uri      string
	)

	app := &cli.App{
		Name:  "zcash-pct",
		Usage: usage,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Load configuration from `FILE`",
				Destination: &configFile,
				EnvVars:     []string{"PCT_CONFIG"},
			},
			&cli.StringFlag{
				Name:        "server",
				Aliases:     []string{"s"},
				Usage:       "Run operations on the zcash-pct server at `URL`",
				Destination: &serverURL,
				EnvVars:     []string{"PCT_SERVER_URL"},
			},
			&cli.StringFlag{
				Name:        "network",
				Aliases:     []string{"n"},
				Usage:       "main, test or regtest; overrides the configuration",
				Destination: &network,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "trace, debug, info, warn or error",
				Destination: &logLevel,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "Print results as JSON",
				Destination: &asJSON,
			},
		},
		Commands: []*cli.Command{
			proposeCommand(setup, &uri, &outFile),
			{
				Name:  "prove",
				Usage: "Attaches a proof to every Orchard action.",
				Flags: []cli.Flag{pcztFlag(&pcztFile), outFlag(&outFile, "Write the proved PCZT to `FILE` instead of in place")},
				Action: func(c *cli.Context) error {
					e, err := setup(c)
					if err != nil {
						return err
					}
					return runProve(c.Context, e, pcztFile, outFile)
				},
			},
			{
				Name:  "sighash",
				Usage: "Prints the digest an external signer must sign for one input.",
				Flags: []cli.Flag{
					pcztFlag(&pcztFile),
					&cli.UintFlag{Name: "input", Aliases: []string{"i"}, Usage: "Input `INDEX`"},
				},
				Action: func(c *cli.Context) error {
					e, err := setup(c)
					if err != nil {
						return err
					}
					p, err := readPCZT(pcztFile)
					if err != nil {
						return err
					}
					hash, err := e.backend.Sighash(c.Context, p, uint32(c.Uint("input")))
					if err != nil {
						return err
					}
					fmt.Println(hex.EncodeToString(hash[:]))
					return nil
				},
			},
			signCommand(setup, pcztFlag(&pcztFile), outFlag(&outFile, "Write the signed PCZT to `FILE` instead of in place"), &pcztFile, &outFile),
			{
				Name:  "append",
				Usage: "Appends a compact signature produced by an external signer.",
				Flags: []cli.Flag{
					pcztFlag(&pcztFile),
					outFlag(&outFile, "Write the signed PCZT to `FILE` instead of in place"),
					&cli.UintFlag{Name: "input", Aliases: []string{"i"}, Usage: "Input `INDEX`"},
					&cli.StringFlag{Name: "signature", Usage: "64-byte r || s signature in `HEX`", Required: true},
				},
				Action: func(c *cli.Context) error {
					e, err := setup(c)
					if err != nil {
						return err
					}
					sig, err := hex.DecodeString(c.String("signature"))
					if err != nil {
						return fmt.Errorf("signature: %w", err)
					}
					p, err := readPCZT(pcztFile)
					if err != nil {
						return err
					}
					signed, err := e.backend.AppendSignature(c.Context, p, uint32(c.Uint("input")), sig)
					if err != nil {
						return err
					}
					return writePCZT(orDefault(outFile, pcztFile), signed)
				},
			},
			{
				Name:  "verify",
				Usage: "Checks a PCZT against the payment request before signing.",
				Flags: []cli.Flag{
					pcztFlag(&pcztFile),
					&cli.StringFlag{Name: "uri", Aliases: []string{"u"}, Usage: "ZIP 321 payment `URI`", Destination: &uri, Required: true},
					&cli.StringSliceFlag{Name: "change", Usage: "Expected transparent change as `ADDRESS:ZATOSHIS`, repeatable"},
					&cli.Uint64Flag{Name: "shielded-change", Usage: "Expected shielded change in `ZATOSHIS`"},
				},
				Action: func(c *cli.Context) error {
					e, err := setup(c)
					if err != nil {
						return err
					}
					p, err := readPCZT(pcztFile)
					if err != nil {
						return err
					}
					req := server.VerifyRequest{PCZT: p, PaymentURI: uri, ShieldedChange: c.Uint64("shielded-change")}
					for _, spec := range c.StringSlice("change") {
						o, err := parseChange(spec)
						if err != nil {
							return err
						}
						req.ExpectedChange = append(req.ExpectedChange, o)
					}
					report, err := e.backend.Verify(c.Context, req)
					if err != nil {
						return err
					}
					if asJSON {
						return printJSON(report)
					}
					if err := renderReport(report); err != nil {
						return err
					}
					if !report.Valid {
						return cli.Exit("", 2)
					}
					return nil
				},
			},
			{
				Name:      "combine",
				Usage:     "Merges copies of one PCZT carrying different signatures or proofs.",
				ArgsUsage: "FILE...",
				Flags:     []cli.Flag{&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Write the merged PCZT to `FILE`", Destination: &outFile, Required: true}},
				Action: func(c *cli.Context) error {
					e, err := setup(c)
					if err != nil {
						return err
					}
					if c.NArg() == 0 {
						return errors.New("combine needs at least one PCZT file")
					}
					ps := make([][]byte, 0, c.NArg())
					for _, path := range c.Args().Slice() {
						p, err := readPCZT(path)
						if err != nil {
							return err
						}
						ps = append(ps, p)
					}
					merged, err := e.backend.Combine(c.Context, ps...)
					if err != nil {
						return err
					}
					return writePCZT(outFile, merged)
				},
			},
			{
				Name:  "status",
				Usage: "Lists the signatures and proofs a PCZT still lacks.",
				Flags: []cli.Flag{pcztFlag(&pcztFile)},
				Action: func(c *cli.Context) error {
					e, err := setup(c)
					if err != nil {
						return err
					}
					p, err := readPCZT(pcztFile)
					if err != nil {
						return err
					}
					r, err := e.backend.Status(c.Context, p)
					if err != nil {
						return err
					}
					if asJSON {
						return printJSON(r)
					}
					if r.Ready {
						pterm.Success.Println("Ready to finalize")
						return nil
					}
					renderMissing(r.Missing)
					return nil
				},
			},
			{
				Name:    "inspect",
				Aliases: []string{"summary"},
				Usage:   "Describes a PCZT. Totals are recomputed from its inputs and outputs.",
				Flags:   []cli.Flag{pcztFlag(&pcztFile)},
				Action: func(c *cli.Context) error {
					e, err := setup(c)
					if err != nil {
						return err
					}
					p, err := readPCZT(pcztFile)
					if err != nil {
						return err
					}
					s, err := e.backend.Summary(c.Context, p)
					if err != nil {
						return err
					}
					if asJSON {
						return printJSON(s)
					}
					return renderSummary(s)
				},
			},
			{
				Name:  "finalize",
				Usage: "Finalizes a complete PCZT and extracts the raw transaction.",
				Flags: []cli.Flag{pcztFlag(&pcztFile), outFlag(&outFile, "Write the raw transaction to `FILE`; hex goes to stdout otherwise")},
				Action: func(c *cli.Context) error {
					e, err := setup(c)
					if err != nil {
						return err
					}
					p, err := readPCZT(pcztFile)
					if err != nil {
						return err
					}
					tx, err := e.backend.Finalize(c.Context, p)
					if err != nil {
						return err
					}
					if asJSON {
						return printJSON(tx)
					}
					if outFile == "" {
						fmt.Println(tx.Transaction)
						return nil
					}
					raw, err := hex.DecodeString(tx.Transaction)
					if err != nil {
						return err
					}
					if err := os.WriteFile(outFile, raw, 0o644); err != nil {
						return err
					}
					pterm.Success.Printf("Transaction %s written to %s\n", tx.TxID, outFile)
					return nil
				},
			},
			{
				Name:      "parse-uri",
				Usage:     "Parses a ZIP 321 payment request.",
				ArgsUsage: "URI",
				Action: func(c *cli.Context) error {
					req, err := zip321.Parse(c.Args().First())
					if err != nil {
						return err
					}
					if asJSON {
						return printJSON(req)
					}
					if err := renderPaymentRequest(req); err != nil {
						return err
					}
					total, err := req.Total()
					if err != nil {
						return err
					}
					pterm.Info.Printf("Total %s, re-encoded as %s\n", zec(total), req.Encode())
					return nil
				},
			},
			{
				Name:  "serve",
				Usage: "Serves the lifecycle operations over HTTP.",
				Action: func(c *cli.Context) error {
					e, err := setup(c)
					if err != nil {
						return err
					}
					if e.remote {
						return errors.New("serve runs locally, drop --server")
					}
					return runServer(c.Context, e)
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		var ke interface{ Kind() pczt.Kind }
		if errors.As(err, &ke) {
			pterm.Error.Printf("[%s] %s\n", ke.Kind(), err)
		} else {
			pterm.Error.Println(err.Error())
		}
		os.Exit(1)
	}
}

func proposeCommand(setup func(*cli.Context) (*env, error), uri, outFile *string) *cli.Command {
	return &cli.Command{
		Name:  "propose",
		Usage: "Builds a PCZT paying a ZIP 321 request from transparent coins.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "uri", Aliases: []string{"u"}, Usage: "ZIP 321 payment `URI`", Destination: uri, Required: true},
			&cli.StringSliceFlag{Name: "input", Aliases: []string{"i"}, Usage: "Coin to spend as `TXID:INDEX:ZATOSHIS[:SCRIPT[:REDEEM]]`, repeatable", Required: true},
			&cli.StringFlag{Name: "from", Usage: "Transparent `ADDRESS` owning inputs given without a script; default change address"},
			&cli.StringFlag{Name: "change", Usage: "Change `ADDRESS`"},
			&cli.Uint64Flag{Name: "fee", Usage: "Exact fee in `ZATOSHIS`"},
			&cli.Uint64Flag{Name: "fee-per-byte", Usage: "Fee rate in `ZATOSHIS` per estimated byte"},
			&cli.UintFlag{Name: "height", Usage: "Target block `HEIGHT`", Required: true},
			&cli.UintFlag{Name: "expiry", Usage: "Expiry `HEIGHT`, target height + 40 by default"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Write the PCZT to `FILE`", Destination: outFile, Required: true},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			var owner *address.Transparent
			if from := c.String("from"); from != "" {
				if owner, err = address.DecodeTransparent(from, e.cfg.Network); err != nil {
					return err
				}
			}

			req := server.ProposeRequest{
				PaymentURI:    *uri,
				ChangeAddress: c.String("change"),
				TargetHeight:  uint32(c.Uint("height")),
				ExpiryHeight:  uint32(c.Uint("expiry")),
			}
			if req.ChangeAddress == "" && owner != nil {
				req.ChangeAddress = owner.String()
			}
			for _, spec := range c.StringSlice("input") {
				in, err := parseInput(spec, owner)
				if err != nil {
					return err
				}
				req.Inputs = append(req.Inputs, in)
			}
			if err := applyFeePolicy(&req, c, e.cfg.Fees); err != nil {
				return err
			}

			p, err := e.backend.Propose(c.Context, req)
			if err != nil {
				return err
			}
			if err := writePCZT(*outFile, p); err != nil {
				return err
			}
			s, err := e.backend.Summary(c.Context, p)
			if err != nil {
				return err
			}
			pterm.Success.Printf("Proposal written to %s, fee %d zat, change %s\n", *outFile, s.Fee, zec(s.Change))
			return nil
		},
	}
}

// applyFeePolicy uses the command line fee, then the configured policy.
func applyFeePolicy(req *server.ProposeRequest, c *cli.Context, cfg fees.Config) error {
	switch {
	case c.IsSet("fee"):
		fee := c.Uint64("fee")
		req.Fee = &fee
		return nil
	case c.IsSet("fee-per-byte"):
		req.FeePerByte = c.Uint64("fee-per-byte")
		return nil
	}
	policy, err := cfg.Build()
	if err != nil {
		return err
	}
	switch p := policy.(type) {
	case fees.PerByte:
		req.FeePerByte = p.Rate
	case fees.Fixed:
		amount := p.Amount
		req.Fee = &amount
	}
	return nil
}

func signCommand(setup func(*cli.Context) (*env, error), pcztFlag, outFlag cli.Flag, pcztFile, outFile *string) *cli.Command {
	return &cli.Command{
		Name:  "sign",
		Usage: "Signs every input the key controls. The key never leaves this process.",
		Flags: []cli.Flag{
			pcztFlag,
			outFlag,
			&cli.StringFlag{Name: "key", Aliases: []string{"k"}, Usage: "WIF private key `FILE`; PCT_SIGNING_KEY otherwise"},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			key, err := readKey(c.String("key"), e.cfg.Network)
			if err != nil {
				return err
			}
			p, err := readPCZT(*pcztFile)
			if err != nil {
				return err
			}
			s, err := e.backend.Summary(c.Context, p)
			if err != nil {
				return err
			}

			signed := 0
			for i := 0; i < s.Inputs; i++ {
				hash, err := e.backend.Sighash(c.Context, p, uint32(i))
				if err != nil {
					return err
				}
				sig := key.SignCompact(hash)
				next, err := e.backend.AppendSignature(c.Context, p, uint32(i), sig[:])
				if isUnknownKey(err) {
					e.log.Debug().Int("input", i).Msg("input belongs to another key")
					continue
				}
				if err != nil {
					return err
				}
				p = next
				signed++
			}
			if signed == 0 {
				return errors.New("the key controls none of the inputs")
			}
			if err := writePCZT(orDefault(*outFile, *pcztFile), p); err != nil {
				return err
			}
			pterm.Success.Printf("Signed %d of %d inputs\n", signed, s.Inputs)
			return nil
		},
	}
}

func isUnknownKey(err error) bool {
	var se *pczt.SignatureError
	if errors.As(err, &se) {
		return se.Code == pczt.ErrUnknownKey
	}
	var re *httpclient.RejectedError
	if errors.As(err, &re) {
		return re.Response.Code == pczt.ErrUnknownKey
	}
	return false
}

func runProve(ctx context.Context, e *env, in, out string) error {
	p, err := readPCZT(in)
	if err != nil {
		return err
	}

	var proved []byte
	if e.remote {
		spinner, _ := pterm.DefaultSpinner.Start("Proving on server")
		proved, err = e.backend.Prove(ctx, p, nil)
		if err != nil {
			spinner.Fail(err.Error())
			return err
		}
		spinner.Success("Proved")
	} else {
		bar, _ := pterm.DefaultProgressbar.WithTotal(100).WithTitle("Proving").Start()
		proved, err = e.backend.Prove(ctx, p, func(ev roles.Progress) {
			bar.UpdateTitle(ev.Phase.String())
			if step := int(ev.Percent) - bar.Current; step > 0 {
				bar.Add(step)
			}
		})
		_, _ = bar.Stop()
		if err != nil {
			return err
		}
	}
	return writePCZT(orDefault(out, in), proved)
}

func runServer(ctx context.Context, e *env) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var metrics *telemetry.Measurements
	if e.cfg.Telemetry.Enabled {
		metrics = telemetry.New(prometheus.NewRegistry())
	}
	eng := engine.New(e.cfg.Engine, e.log)
	m := api.New(api.WithEngine(eng), api.WithLogger(e.log), api.WithMetrics(metrics))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		if err := eng.Load(ctx); err != nil {
			return fmt.Errorf("load proving keys: %w", err)
		}
		e.log.Info().Dur("elapsed", time.Since(start)).Msg("proving keys ready")
		return nil
	})
	if metrics != nil && e.cfg.Telemetry.Port != 0 {
		g.Go(func() error { return metrics.Run(ctx, cancel, e.cfg.Telemetry.Port) })
	}
	g.Go(func() error {
		return server.Run(ctx, e.cfg.Server, m, e.cfg.Network, metrics, e.log)
	})
	return g.Wait()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
