package middleware

import (
	"net/http"
	"os"
	"path/filepath"
)

const placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 200"><rect width="200" height="200" fill="#f0f0f0"/><rect x="55" y="45" width="90" height="120" rx="6" fill="#ccc"/><rect x="63" y="53" width="74" height="84" rx="3" fill="#999"/><text x="100" y="180" text-anchor="middle" font-family="Arial" font-size="14" fill="#666">RAFFLE</text></svg>`

// StaticFileServer serves raffle item images, falling back to a placeholder
// for cards whose photo has not been uploaded yet.
func StaticFileServer(dir string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(dir, filepath.Clean(r.URL.Path))

		if _, err := os.Stat(path); err == nil {
			w.Header().Set("Cache-Control", "public, max-age=2592000")
			http.ServeFile(w, r, path)
			return
		}

		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Write([]byte(placeholderSVG))
	})
}
