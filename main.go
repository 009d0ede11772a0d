// jcxfs is an encrypted, mountable filesystem whose entire on-disk
// representation is a single encrypted append-only key-value database.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jcxfs/jcxfs/internal/exitcodes"
	"github.com/jcxfs/jcxfs/internal/tlog"
)

var (
	flagDebug bool
	flagQuiet bool
)

var rootCmd = &cobra.Command{
	Use:   "jcxfs",
	Short: "encrypted filesystem in a single key-value database",
	Long: `jcxfs stores a POSIX-like filesystem inside one encrypted append-only
key-value database. File contents, names, sizes and directory structure
are not observable from the raw storage.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flagDebug {
			tlog.Debug.Enabled = true
		}
		if flagQuiet {
			tlog.Info.Enabled = false
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug output")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "quiet - silence informational output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		tlog.Fatal.Printf("%v", err)
		exitcodes.Exit(exitcodes.NewErr(err.Error(), exitcodes.Usage))
	}
	os.Exit(0)
}
