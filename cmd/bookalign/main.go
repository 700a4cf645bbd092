// Command bookalign aligns audiobook ASR transcripts with the manuscript they
// were read from and serves the resulting review artifacts.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "bookalign: %v\n", err)
		os.Exit(1)
	}
}
