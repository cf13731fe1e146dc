// Package migrations embeds the overlay store's SQL migration files into the
// binary so overlayd and overlayctl can migrate without the files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/overlay-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
