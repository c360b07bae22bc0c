package web

import (
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/gin-gonic/gin"

	"qrattend/internal/auth"
)

//go:embed templates/*.html
var templateFS embed.FS

func parseTemplates() (*template.Template, error) {
	return template.New("").Funcs(template.FuncMap{
		"fmtTime": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.UTC().Format("2006-01-02 15:04:05")
		},
		"fmtTimep": func(t *time.Time) string {
			if t == nil {
				return "never"
			}
			return t.UTC().Format("2006-01-02 15:04:05")
		},
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
		"clock": func(seconds int) string {
			return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
		},
	}).ParseFS(templateFS, "templates/*.html")
}

// render fills the layout fields every page uses and writes the template.
func (h *Handler) render(c *gin.Context, status int, name string, data gin.H) {
	if data == nil {
		data = gin.H{}
	}
	data["Flashes"] = popFlashes(c)
	data["IsAdmin"] = auth.IsAdmin(c)
	c.HTML(status, name, data)
}
