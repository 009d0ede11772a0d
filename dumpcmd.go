package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jcxfs/jcxfs/internal/exitcodes"
	"github.com/jcxfs/jcxfs/internal/kvfs"
	"github.com/jcxfs/jcxfs/internal/tlog"
)

var (
	dumpPw  passwordFlags
	statsPw passwordFlags
)

var dumpCmd = &cobra.Command{
	Use:   "dump <dbPath>",
	Short: "Print table sizes and a human-readable record dump",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withOpenDb(args[0], dumpPw.once(), func(fsys *kvfs.FS) error {
			if err := fsys.DumpStats(os.Stdout); err != nil {
				return err
			}
			return fsys.DumpContents(os.Stdout)
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <dbPath>",
	Short: "Print table sizes",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withOpenDb(args[0], statsPw.once(), func(fsys *kvfs.FS) error {
			return fsys.DumpStats(os.Stdout)
		})
	},
}

func withOpenDb(dbPath, password string, fn func(*kvfs.FS) error) {
	fsys, err := kvfs.Open(kvfs.Config{Dir: dbPath, Password: password, ReadOnly: true})
	if err != nil {
		tlog.Fatal.Printf("%v", err)
		exitcodes.Exit(exitcodes.NewErr(err.Error(), exitcodes.OpenDb))
	}
	defer fsys.Close()
	if err := fn(fsys); err != nil {
		tlog.Fatal.Printf("%v", err)
		exitcodes.Exit(exitcodes.NewErr(err.Error(), exitcodes.Other))
	}
}

func init() {
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(statsCmd)
	dumpPw.register(dumpCmd)
	statsPw.register(statsCmd)
}
