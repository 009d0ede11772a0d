package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// GitVersion is set by the build script using "-ldflags -X main.GitVersion=...".
var GitVersion = "[GitVersion not set - please compile using ./build.bash]"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("jcxfs %s; go-fuse; %s %s/%s\n",
			GitVersion, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
