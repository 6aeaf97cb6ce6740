package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/review-crawler/internal/output"
)

var listingCmd = &cobra.Command{
	Use:   "listing <file>",
	Short: "Print the entries of a listing file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetBool("count")
		return printListing(os.Stdout, args[0], count)
	},
}

// printListing writes the entries of the listing at path, one per line, or
// only their number when count is set.
func printListing(w io.Writer, path string, count bool) error {
	urls, err := output.ReadListingFile(path)
	if err != nil {
		return err
	}
	if count {
		_, err = fmt.Fprintln(w, len(urls))
		return err
	}
	for _, u := range urls {
		if _, err := fmt.Fprintln(w, u); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	listingCmd.Flags().Bool("count", false, "print only the number of entries")
	rootCmd.AddCommand(listingCmd)
}
