// ABOUTME: Process-wide logrus setup shared by the CLI, MCP server and workers
// ABOUTME: Components obtain scoped entries through For("component")
package logging

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Init configures the standard logrus logger
func Init(level, format string, out io.Writer) error {
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return err
	}
	if out == nil {
		out = os.Stderr
	}

	log.SetOutput(out)
	log.SetLevel(lvl)
	if strings.EqualFold(format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// For returns a logger entry tagged with a component name
func For(component string) *log.Entry {
	return log.WithField("component", component)
}
