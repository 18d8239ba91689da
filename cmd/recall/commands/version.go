// ABOUTME: Version command to display build information
// ABOUTME: Shows release, commit, build date and the Go runtime that built the binary
package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// VersionInfo contains build information
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

var versionInfo = VersionInfo{
	Version:   "dev",
	Commit:    "none",
	Date:      "unknown",
	GoVersion: runtime.Version(),
	Platform:  runtime.GOOS + "/" + runtime.GOARCH,
}

// SetVersion records the build metadata injected at link time
func SetVersion(version, commit, date string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.Date = date
}

// String renders the one-line form used in the MCP server handshake and logs
func (v VersionInfo) String() string {
	return fmt.Sprintf("recall %s (%s, %s)", v.Version, v.Commit, v.Platform)
}

// NewVersionCmd creates the version command
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display release, commit, build date and Go runtime of the recall CLI.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if wantJSON() {
				return writeJSON(cmd.OutOrStdout(), versionInfo)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "recall %s\n", versionInfo.Version)
			fmt.Fprintf(out, "Commit: %s\n", versionInfo.Commit)
			fmt.Fprintf(out, "Built:  %s\n", versionInfo.Date)
			fmt.Fprintf(out, "Go:     %s %s\n", versionInfo.GoVersion, versionInfo.Platform)
			return nil
		},
	}
}
