package panel

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
)

//go:embed web/*
var content embed.FS

// Handler returns an http.Handler for the front-end assets.
//
// When dir is non-empty and exists, assets are served from the filesystem so
// a rebuilt bundle is picked up without restarting. Otherwise the embedded
// status page is served.
// Panics if the embedded assets cannot be loaded (build error).
func Handler(dir string) http.Handler {
	return handler(resolveFS(dir))
}

// FromDisk reports whether Handler(dir) would serve from the filesystem.
func FromDisk(dir string) bool {
	if dir == "" {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

func resolveFS(dir string) http.FileSystem {
	if FromDisk(dir) {
		return http.Dir(dir)
	}
	webFS, err := fs.Sub(content, "web")
	if err != nil {
		panic(fmt.Sprintf("panel: failed to load embedded web assets: %v", err))
	}
	return http.FS(webFS)
}

func handler(fileSystem http.FileSystem) http.Handler {
	fileServer := http.FileServer(fileSystem)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")

		upath := path.Clean("/" + r.URL.Path)
		if upath == "/" {
			fileServer.ServeHTTP(w, r)
			return
		}

		f, err := fileSystem.Open(upath[1:])
		if err != nil {
			// SPA fallback.
			r.URL.Path = "/"
			fileServer.ServeHTTP(w, r)
			return
		}
		f.Close()

		fileServer.ServeHTTP(w, r)
	})
}
