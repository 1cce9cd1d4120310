// Package server exposes the lifecycle roles over HTTP so that the
// constructor, prover and signers can run in different processes. PCZTs
// travel in request and response bodies; the server keeps no state.
package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/suffix-labs/zcash-pct/pkg/api"
	"github.com/suffix-labs/zcash-pct/pkg/params"
	"github.com/suffix-labs/zcash-pct/pkg/telemetry"
)

const (
	ApiVersion = "1.0.0"
	Header     = "Zcash-PCT"
)

const (
	pcztGroupURL = "/pczt"
	proposeURL   = "/propose"
	proveURL     = "/prove"
	sighashURL   = "/sighash"
	signatureURL = "/signature"
	verifyURL    = "/verify"
	combineURL   = "/combine"
	statusURL    = "/status"
	summaryURL   = "/summary"
	finalizeURL  = "/finalize"
)

const (
	AliveURL     = "/alive"                    // URL to check if server is alive and version.
	ProposeURL   = pcztGroupURL + proposeURL   // URL to build a PCZT from a payment request.
	ProveURL     = pcztGroupURL + proveURL     // URL to attach proofs.
	SighashURL   = pcztGroupURL + sighashURL   // URL to get the digest for one input.
	SignatureURL = pcztGroupURL + signatureURL // URL to append a transparent signature.
	VerifyURL    = pcztGroupURL + verifyURL    // URL to check a PCZT before signing.
	CombineURL   = pcztGroupURL + combineURL   // URL to merge copies.
	StatusURL    = pcztGroupURL + statusURL    // URL to list what is still missing.
	SummaryURL   = pcztGroupURL + summaryURL   // URL to describe a PCZT.
	FinalizeURL  = pcztGroupURL + finalizeURL  // URL to extract the final transaction.
	MetricsURL   = "/metrics"                  // URL of the Prometheus metrics.
)

var ErrWrongPortSpecified = errors.New("port must be between 1 and 65535")

// Config contains configuration of the server.
type Config struct {
	Port         int           `yaml:"port"`          // Port to listen on.
	ProveTimeout time.Duration `yaml:"prove_timeout"` // Upper bound for one proving request, 10m when 0.
}

type server struct {
	manager      *api.Manager
	network      params.Network
	proveTimeout time.Duration
	log          zerolog.Logger
}

// Run initializes routing and runs the server. To stop the server cancel the context.
// It blocks until the context is canceled.
func Run(ctx context.Context, c Config, m *api.Manager, net params.Network, metrics *telemetry.Measurements, log zerolog.Logger) error {
	if c.Port <= 0 || c.Port > 65535 {
		return ErrWrongPortSpecified
	}
	ctxx, cancel := context.WithCancel(ctx)
	defer cancel()

	router := NewRouter(c, m, net, metrics, log)

	var err error
	go func() {
		if errx := router.Listen(fmt.Sprintf("0.0.0.0:%v", c.Port)); errx != nil {
			log.Error().Err(errx).Msg("listener stopped")
			cancel()
		}
	}()
	log.Info().Int("port", c.Port).Str("network", net.String()).Msg("server started")

	<-ctxx.Done()

	if errx := router.Shutdown(); errx != nil {
		err = errors.Join(err, errx)
	}
	return err
}

// NewRouter builds the application without listening. Run uses it; tests
// and embedders can serve it on their own listener.
func NewRouter(c Config, m *api.Manager, net params.Network, metrics *telemetry.Measurements, log zerolog.Logger) *fiber.App {
	if c.ProveTimeout <= 0 {
		c.ProveTimeout = 10 * time.Minute
	}
	s := &server{
		manager:      m,
		network:      net,
		proveTimeout: c.ProveTimeout,
		log:          log.With().Str("component", "server").Logger(),
	}

	router := fiber.New(fiber.Config{
		Prefork:       false,
		CaseSensitive: true,
		StrictRouting: true,
		ReadTimeout:   time.Second * 5,
		WriteTimeout:  c.ProveTimeout,
		ServerHeader:  Header,
		AppName:       ApiVersion,
		BodyLimit:     16 * 1024 * 1024,
		ErrorHandler:  s.errorHandler,
	})
	router.Use(recover.New())

	router.Get(AliveURL, s.alive)
	if metrics != nil {
		router.Get(MetricsURL, adaptor.HTTPHandler(metrics.Handler()))
	}

	pczts := router.Group(pcztGroupURL)
	pczts.Post(proposeURL, s.propose)
	pczts.Post(proveURL, s.prove)
	pczts.Post(sighashURL, s.sighash)
	pczts.Post(signatureURL, s.signature)
	pczts.Post(verifyURL, s.verify)
	pczts.Post(combineURL, s.combine)
	pczts.Post(statusURL, s.status)
	pczts.Post(summaryURL, s.summary)
	pczts.Post(finalizeURL, s.finalize)

	return router
}
