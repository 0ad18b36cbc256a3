package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hsp-payroll/payslip-cli/internal/blob"
	"github.com/hsp-payroll/payslip-cli/internal/pipeline"
	"github.com/hsp-payroll/payslip-cli/internal/relocate"
	"github.com/hsp-payroll/payslip-cli/internal/store"
)

var (
	matchTenant     string
	matchProcess    string
	matchUser       string
	matchBatch      string
	matchPrefix     string
	matchNoRelocate bool
)

var matchCmd = &cobra.Command{
	Use:   "match [fileURL...]",
	Short: "Extract, match, and persist a batch of payslip documents",
	Long: `Runs the full payslip pipeline over the given document URLs (or every
object under --prefix in the configured bucket): extract fields, match each
document to an employee, persist the result, and rename matched files to
their canonical form.`,
	RunE: runMatch,
}

func init() {
	matchCmd.Flags().StringVar(&matchTenant, "tenant", "", "tenant the documents belong to (derived from --process when omitted)")
	matchCmd.Flags().StringVar(&matchProcess, "process", "", "payroll process instance identifier")
	matchCmd.Flags().StringVar(&matchUser, "user", "", "user to attribute audit events to")
	matchCmd.Flags().StringVar(&matchBatch, "batch", "", "batch identifier (generated when omitted)")
	matchCmd.Flags().StringVar(&matchPrefix, "prefix", "", "process every object under this prefix in the configured bucket")
	matchCmd.Flags().BoolVar(&matchNoRelocate, "no-relocate", false, "skip renaming matched files after the batch")
	rootCmd.AddCommand(matchCmd)
}

func runMatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if matchProcess == "" {
		return eris.New("--process is required")
	}

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	dir, err := initDirectory(st)
	if err != nil {
		return err
	}

	tenant, err := resolveTenant(ctx, dir, matchTenant, matchProcess)
	if err != nil {
		return err
	}

	blobs, err := initBlob(ctx)
	if err != nil {
		return err
	}
	defer blobs.Close()

	refs := args
	if matchPrefix != "" {
		if cfg.Blob.Bucket == "" {
			return eris.New("--prefix requires a configured bucket (PAYSLIP_BLOB_BUCKET)")
		}
		listed, err := blobs.List(ctx, cfg.Blob.Bucket, matchPrefix)
		if err != nil {
			return eris.Wrap(err, "list objects under prefix")
		}
		for _, ref := range listed {
			refs = append(refs, ref.URL())
		}
	}
	if len(refs) == 0 {
		return eris.New("no documents to process: pass file URLs or --prefix")
	}

	scope := pipeline.Scope{
		TenantID:  tenant,
		ProcessID: matchProcess,
		UserID:    matchUser,
		BatchID:   pipeline.NewBatchID(matchBatch),
	}
	runner, err := buildRunner(scope, st, dir, blobs)
	if err != nil {
		return err
	}

	summary, err := runner.Run(ctx, refs)
	if err != nil {
		return err
	}

	if !matchNoRelocate && summary.Succeeded > 0 {
		renamed, err := relocateMatched(ctx, st, blobs, scope)
		if err != nil {
			zap.L().Error("relocation failed", zap.Error(err))
		} else {
			zap.L().Info("relocation finished", zap.Int("renamed", renamed))
		}
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return eris.Wrap(err, "encode summary")
	}
	fmt.Println(string(out))

	if summary.Failed > 0 {
		return eris.Errorf("%d of %d documents failed", summary.Failed, summary.Total)
	}
	return nil
}

func relocateMatched(ctx context.Context, st store.Store, blobs *blob.GCS, scope pipeline.Scope) (int, error) {
	return relocate.New(st, blobs).Run(ctx, scope.TenantID, scope.ProcessID, scope.BatchID)
}
