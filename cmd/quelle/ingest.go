package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var ingestStrategy string

var ingestCmd = &cobra.Command{
	Use:   "ingest FILE...",
	Short: "Upload documents to a dataset",
	Long: `Uploads each file to the dataset. The file's base name becomes its
document ID, so uploading the same name again replaces the earlier version.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

var deleteCmd = &cobra.Command{
	Use:   "delete DOCUMENT_ID",
	Short: "Remove a document from a dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := newAPIClient().deleteDocument(cmd.Context(), dataset, args[0])
		if err != nil {
			return err
		}
		cmd.Printf("deleted %s (%d segments)\n", args[0], n)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestStrategy, "strategy", "", "splitting strategy: character, sentence, paragraph")
	rootCmd.AddCommand(ingestCmd, deleteCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	c := newAPIClient()
	var failed int
	var results []*ingestResult

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		res, err := c.ingest(cmd.Context(), dataset, filepath.Base(path), data, ingestStrategy)
		if err != nil {
			failed++
			cmd.PrintErrf("%s: %v\n", path, err)
			continue
		}
		results = append(results, res)
		if !jsonOutput {
			cmd.Printf("%s -> %s (%d segments", path, res.DocumentID, res.Segments)
			if res.Replaced > 0 {
				cmd.Printf(", replaced %d", res.Replaced)
			}
			cmd.Println(")")
		}
	}

	if jsonOutput {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(args))
	}
	return nil
}
