package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/hsp-payroll/payslip-cli/internal/relocate"
)

var (
	relocateTenant  string
	relocateProcess string
	relocateBatch   string
)

var relocateCmd = &cobra.Command{
	Use:   "relocate",
	Short: "Rename matched payslip files to their canonical names",
	Long: `Renames every matched file in a batch to the canonical
PS_<employee>_<period>.pdf form, copying to the new object and deleting the
old one only after the copy is verified. Safe to re-run: files already at
their canonical name are skipped.`,
	RunE: runRelocate,
}

func init() {
	relocateCmd.Flags().StringVar(&relocateTenant, "tenant", "", "tenant the batch belongs to (derived from --process when omitted)")
	relocateCmd.Flags().StringVar(&relocateProcess, "process", "", "payroll process instance identifier")
	relocateCmd.Flags().StringVar(&relocateBatch, "batch", "", "batch identifier")
	rootCmd.AddCommand(relocateCmd)
}

func runRelocate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if relocateProcess == "" {
		return eris.New("--process is required")
	}
	if relocateBatch == "" {
		return eris.New("--batch is required")
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

	tenant, err := resolveTenant(ctx, dir, relocateTenant, relocateProcess)
	if err != nil {
		return err
	}

	blobs, err := initBlob(ctx)
	if err != nil {
		return err
	}
	defer blobs.Close()

	renamed, err := relocate.New(st, blobs).Run(ctx, tenant, relocateProcess, relocateBatch)
	if err != nil {
		return err
	}
	fmt.Printf("renamed %d file(s)\n", renamed)
	return nil
}
