// Command patrol-store runs the PocketBase server that holds personnel,
// beats, assignments and current locations.
package main

import (
	"os"
	"strings"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/sirupsen/logrus"

	_ "patrol-beat-tracker/migrations"
)

func main() {
	app := pocketbase.New()

	// automigrate only while developing through `go run`
	isGoRun := strings.HasPrefix(os.Args[0], os.TempDir())
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Dir:         "migrations",
		Automigrate: isGoRun,
	})

	if err := app.Start(); err != nil {
		logrus.WithError(err).Fatal("❌ patrol-store stopped")
	}
}
