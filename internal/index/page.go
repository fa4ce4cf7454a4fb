package index

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/a-h/templ"
)

// Page returns the index document for entries. token is appended to every
// image URL so browsers refetch artifacts after a reload.
func (b *Builder) Page(entries []Entry, token int64) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		pw := &pageWriter{w: w}

		pw.print("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
		pw.printf("<title>%s</title>\n", templ.EscapeString(b.title))
		pw.print(b.reloadScript())
		pw.print("</head>\n<body>\n")
		pw.printf("<h1>%s</h1>\n<ul>\n", templ.EscapeString(b.title))

		t := strconv.FormatInt(token, 10)
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			name := templ.EscapeString(e.Artifact)
			href := templ.EscapeString(assetURL(e.Artifact))
			stamp := templ.EscapeString(e.ModTime.In(b.location).Format(b.timeFormat))

			pw.printf("<li><h2>%s (Last Update: %s)</h2>\n", name, stamp)
			pw.printf("<img src=\"%s?t=%s\" alt=\"%s\" style=\"max-width: 100%%; height: auto;\"><br>\n", href, t, name)
			pw.printf("<a href=\"%s\" download>Download %s</a><br></li>\n", href, name)
		}

		pw.print("</ul>\n</body>\n</html>\n")
		return pw.err
	})
}

// reloadScript connects to the notification server on the page's own host
// and reloads the page when a reload message arrives.
func (b *Builder) reloadScript() string {
	path, _ := json.Marshal(b.notifyPath)

	return fmt.Sprintf(`<script>
(function () {
  var socket = new WebSocket("ws://" + (location.hostname || "localhost") + ":%d" + %s);
  socket.onmessage = function (event) {
    var data = JSON.parse(event.data);
    if (data.action === "reload") {
      location.reload();
    }
  };
})();
</script>
`, b.notifyPort, path)
}

// pageWriter keeps the first write error so the page body reads linearly.
type pageWriter struct {
	w   io.Writer
	err error
}

func (p *pageWriter) print(s string) {
	if p.err != nil {
		return
	}
	_, p.err = io.WriteString(p.w, s)
}

func (p *pageWriter) printf(format string, args ...interface{}) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}
