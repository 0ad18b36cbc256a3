package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/hsp-payroll/payslip-cli/internal/blob"
	"github.com/hsp-payroll/payslip-cli/internal/directory"
	"github.com/hsp-payroll/payslip-cli/internal/extract"
	"github.com/hsp-payroll/payslip-cli/internal/match"
	"github.com/hsp-payroll/payslip-cli/internal/notify"
	"github.com/hsp-payroll/payslip-cli/internal/pipeline"
	"github.com/hsp-payroll/payslip-cli/internal/split"
	"github.com/hsp-payroll/payslip-cli/internal/store"
	"github.com/hsp-payroll/payslip-cli/pkg/docintel"
)

// directoryStore is the employee directory surface the commands need: name
// matching plus tenant defaulting.
type directoryStore interface {
	match.Directory
	TenantForProcess(ctx context.Context, processID string) (string, error)
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "payslips.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initDirectory serves employee profiles from the same database as the
// matching records.
func initDirectory(st store.Store) (directoryStore, error) {
	switch s := st.(type) {
	case *store.PostgresStore:
		return directory.NewPostgres(s.Pool()), nil
	case *store.SQLiteStore:
		return directory.NewSQLite(s.DB()), nil
	default:
		return nil, eris.New("store backend does not expose an employee directory")
	}
}

func initBlob(ctx context.Context) (*blob.GCS, error) {
	blobs, err := blob.NewGCS(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "init object storage")
	}
	return blobs, nil
}

func buildRunner(scope pipeline.Scope, st store.Store, dir match.Directory, blobs *blob.GCS) (*pipeline.Runner, error) {
	if cfg.Docintel.Endpoint == "" || cfg.Docintel.Key == "" {
		return nil, eris.New("document analysis endpoint and key are required (PAYSLIP_DOCINTEL_ENDPOINT, PAYSLIP_DOCINTEL_KEY)")
	}

	client := docintel.NewClient(cfg.Docintel.Endpoint, cfg.Docintel.Key,
		docintel.WithModelID(cfg.Docintel.ModelID),
		docintel.WithPollInterval(time.Duration(cfg.Docintel.PollIntervalSecs)*time.Second),
		docintel.WithPollTimeout(time.Duration(cfg.Docintel.PollTimeoutSecs)*time.Second),
	)

	proc := pipeline.NewProcessor(scope, extract.NewService(client), match.NewResolver(dir), st, pipeline.ProcessorOptions{
		Blobs:             blobs,
		Signer:            blobs,
		ExtractionTimeout: time.Duration(cfg.Batch.ExtractionTimeoutSecs) * time.Second,
		StorageTimeout:    time.Duration(cfg.Batch.StorageTimeoutSecs) * time.Second,
		SignTTL:           time.Duration(cfg.Blob.SignTTLMins) * time.Minute,
	})

	opts := pipeline.RunnerOptions{
		Notifier:    notify.New(cfg.Notify.WebhookURL, cfg.Notify.SubscriptionKey),
		Concurrency: cfg.Batch.Concurrency,
	}
	if cfg.Batch.SplitDocuments {
		opts.Splitter = split.New(blobs)
	}
	return pipeline.NewRunner(scope, proc, st, opts), nil
}

// resolveTenant falls back to the process's owning tenant when no tenant was
// given on the command line.
func resolveTenant(ctx context.Context, dir directoryStore, tenantID, processID string) (string, error) {
	if tenantID != "" {
		return tenantID, nil
	}
	if processID == "" {
		return "", eris.New("either --tenant or --process is required")
	}
	return dir.TenantForProcess(ctx, processID)
}
