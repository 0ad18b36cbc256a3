package main

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	recordsTenant  string
	recordsProcess string
	recordsBatch   string
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List the matched records of a batch as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if recordsTenant == "" || recordsProcess == "" || recordsBatch == "" {
			return eris.New("--tenant, --process, and --batch are required")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		records, err := st.ListMatched(ctx, recordsTenant, recordsProcess, recordsBatch)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return eris.Wrap(err, "encode records")
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	recordsCmd.Flags().StringVar(&recordsTenant, "tenant", "", "tenant the batch belongs to")
	recordsCmd.Flags().StringVar(&recordsProcess, "process", "", "payroll process instance identifier")
	recordsCmd.Flags().StringVar(&recordsBatch, "batch", "", "batch identifier")
	rootCmd.AddCommand(recordsCmd)
}
