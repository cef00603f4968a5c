package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	// A missing .env is fine
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "deltaflow",
		Short: "Create a versioned table in object storage and merge a CSV into it",
		Long: `deltaflow provisions a fresh Delta-style table in S3-compatible storage,
loads a delimited file and upserts it into the table by __id in one atomic commit.

Connection settings are read from the environment (or a .env file):
  ALLOW_HTTP, MINIO_URL, MINIO_STORAGE_REGION, MINIO_LOGIN, MINIO_PASSWORD,
  MINIO_SOURCE_BUCKET`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "deltaflow v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
	root.AddCommand(newRunCmd(), newInspectCmd(), newPreviewCmd())
	return root
}
