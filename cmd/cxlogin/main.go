// Package main provides the entry point for cxlogin, the browser based login
// for IDE integrations of the scanning platform.
package main

import (
	"os"

	"github.com/router-for-me/cxlogin/internal/auth"
	"github.com/router-for-me/cxlogin/internal/buildinfo"
	"github.com/router-for-me/cxlogin/internal/cmd"
	"github.com/router-for-me/cxlogin/internal/logging"
	log "github.com/sirupsen/logrus"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	root := cmd.NewRootCommand(cmd.DefaultOptions())
	if err := root.Execute(); err != nil {
		message := err.Error()
		if !auth.IsKind(err, auth.KindUnknown) {
			log.Debugf("command failed: %v", err)
			message = auth.UserMessage(err)
		}
		_, _ = os.Stderr.WriteString(message + "\n")
		os.Exit(1)
	}
}
