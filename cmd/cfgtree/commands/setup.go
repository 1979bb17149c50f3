package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/cfgtree/pkg/cfg"
	"github.com/openfroyo/cfgtree/pkg/constraint"
	"github.com/openfroyo/cfgtree/pkg/loader"
	"github.com/openfroyo/cfgtree/pkg/policy"
	"github.com/openfroyo/cfgtree/pkg/schemafile"
	"github.com/openfroyo/cfgtree/pkg/source"
	"github.com/openfroyo/cfgtree/pkg/stores"
	"github.com/openfroyo/cfgtree/pkg/telemetry"
)

// app is the wiring shared by check, dump and watch.
type app struct {
	settings *settings
	tel      *telemetry.Telemetry
	policies *policy.Engine
	store    *stores.SQLiteStore
	loader   *loader.Loader
	metrics  *http.Server
}

func newTelemetryConfig(s *settings, version string) *telemetry.Config {
	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = version
	if s.Environment != "" {
		tcfg.Environment = s.Environment
	}
	if s.LogLevel != "" {
		tcfg.Logging.Level = s.LogLevel
	}
	tcfg.Logging.Format = s.LogFormat
	if s.Trace != "none" {
		tcfg.Tracing.Enabled = true
		tcfg.Tracing.Exporter = s.Trace
		tcfg.Tracing.Endpoint = s.TraceEndpoint
	}
	tcfg.Metrics.ListenAddress = s.MetricsAddr
	return tcfg
}

// newResolver serves local files, plus sftp:// names when SSH credentials
// are available.
func newResolver(s *settings) cfg.Resolver {
	mux := source.NewMux(source.Files{})

	sftpCfg := source.DefaultSFTPConfig(s.SFTPUser)
	if s.SFTPKey != "" {
		sftpCfg.PrivateKeyPath = s.SFTPKey
	}
	if s.SFTPKnownHosts != "" {
		sftpCfg.KnownHostsPath = s.SFTPKnownHosts
	}
	sftpCfg.StrictHostKeyChecking = !s.SFTPInsecure

	r, err := source.NewSFTP(sftpCfg)
	if err != nil {
		log.Debug().Err(err).Msg("sftp sources disabled")
		return mux
	}
	mux.Handle("sftp", r)
	return mux
}

func newApp(ctx context.Context, s *settings, version string) (_ *app, err error) {
	if s.Schema == "" {
		return nil, errors.New("a schema is required (--schema)")
	}

	a := &app{settings: s}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.tel, err = telemetry.NewTelemetry(newTelemetryConfig(s, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	schema, err := schemafile.LoadFile(s.Schema, schemafile.WithTimeout(s.StarlarkTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	opts := []loader.Option{
		loader.WithResolver(newResolver(s)),
		loader.WithTelemetry(a.tel),
	}

	var parseOpts []cfg.ParseOption
	if s.NoCase {
		parseOpts = append(parseOpts, cfg.WithNoCase())
	}
	if s.NoEnv {
		parseOpts = append(parseOpts, cfg.WithLookupEnv(func(string) (string, bool) { return "", false }))
	}
	if s.MaxIncludeDepth > 0 {
		parseOpts = append(parseOpts, cfg.WithMaxIncludeDepth(s.MaxIncludeDepth))
	}
	opts = append(opts, loader.WithParseOptions(parseOpts...))

	if !s.NoBuiltinPolicies || len(s.Policies) > 0 {
		engineOpts := []policy.EngineOption{policy.WithEnvironment(s.Environment)}
		if s.NoBuiltinPolicies {
			engineOpts = append(engineOpts, policy.WithoutBuiltins())
		}
		a.policies, err = policy.NewEngine(a.tel.Logger.NewComponentLogger("policy").Zerolog(), engineOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create policy engine: %w", err)
		}
		if len(s.Policies) > 0 {
			if err := a.policies.LoadPolicies(ctx, s.Policies); err != nil {
				return nil, fmt.Errorf("failed to load policies: %w", err)
			}
		}
		opts = append(opts, loader.WithChecker(a.policies))
	}

	if len(s.Constraints) > 0 {
		checker := constraint.New(a.tel.Logger.NewComponentLogger("constraint").Zerolog())
		if err := checker.LoadPaths(s.Constraints); err != nil {
			return nil, fmt.Errorf("failed to load constraints: %w", err)
		}
		opts = append(opts, loader.WithChecker(checker))
	}

	if s.History != "" {
		a.store, err = stores.Open(ctx, s.History)
		if err != nil {
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
		opts = append(opts, loader.WithRecorder(a.store))
	}

	a.metrics, err = a.tel.StartMetricsServer()
	if err != nil {
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}

	a.loader = loader.New(schema, opts...)
	return a, nil
}

// Close releases everything newApp opened. It runs after the command
// context is cancelled, so it uses its own deadline.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.metrics != nil {
		if err := a.metrics.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to stop metrics server")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close history")
		}
	}
	if a.tel != nil {
		if err := a.tel.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to shut down telemetry")
		}
	}
}
