package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rhuss/quelle/pkg/api"
)

var (
	queryTopK     int
	queryMinScore float32
	queryModel    string
)

var queryCmd = &cobra.Command{
	Use:   "query TEXT",
	Short: "Show the passages most similar to a text",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

var askCmd = &cobra.Command{
	Use:   "ask QUESTION",
	Short: "Stream an answer grounded in the dataset",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	for _, c := range []*cobra.Command{queryCmd, askCmd} {
		c.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of passages (server default when 0)")
		c.Flags().Float32Var(&queryMinScore, "min-score", 0, "drop passages scoring below this similarity")
	}
	askCmd.Flags().StringVarP(&queryModel, "model", "m", "", "completion model override")
	rootCmd.AddCommand(queryCmd, askCmd)
}

func params(cmd *cobra.Command, args []string) queryParams {
	q := queryParams{Query: strings.Join(args, " "), TopK: queryTopK, Model: queryModel}
	if cmd.Flags().Changed("min-score") {
		q.MinScore = &queryMinScore
	}
	return q
}

func runQuery(cmd *cobra.Command, args []string) error {
	results, err := newAPIClient().query(cmd.Context(), dataset, params(cmd, args))
	if err != nil {
		return err
	}

	if jsonOutput {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}
	if len(results) == 0 {
		cmd.Println("No results found.")
		return nil
	}
	for i, r := range results {
		cmd.Printf("[%d] %s (%.3f)\n", i+1, sourceLabel(r), r.Score)
		cmd.Printf("    %s\n\n", snippet(r.Text, 240))
	}
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	var sources []api.QueryResult

	err := newAPIClient().answer(cmd.Context(), dataset, params(cmd, args), answerHandler{
		Sources: func(s []api.QueryResult) { sources = s },
		Delta:   func(text string) { fmt.Fprint(out, text) },
		Done:    func(string) { fmt.Fprintln(out) },
	})
	if err != nil {
		return err
	}

	if len(sources) > 0 {
		fmt.Fprintln(out, "\nSources:")
		for i, s := range sources {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, sourceLabel(s))
		}
	}
	return nil
}

func sourceLabel(r api.QueryResult) string {
	title := api.MetadataString(r.Metadata[api.MetaTitle])
	source := api.MetadataString(r.Metadata[api.MetaSource])
	switch {
	case title != "" && source != "" && title != source:
		return title + " (" + source + ")"
	case title != "":
		return title
	case source != "":
		return source
	}
	return r.ID
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
