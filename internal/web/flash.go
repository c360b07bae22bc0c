package web

import (
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const flashCookieName = "qrattend_session"

// Flash categories map onto alert styles in the templates.
const (
	flashSuccess = "success"
	flashInfo    = "info"
	flashWarning = "warning"
	flashDanger  = "danger"
)

// Flash is a one-shot message shown on the next rendered page.
type Flash struct {
	Category string
	Message  string
}

func addFlash(c *gin.Context, category, msg string) {
	s := sessions.Default(c)
	s.AddFlash(category + "|" + msg)
	_ = s.Save()
}

// popFlashes returns and clears pending flashes. It must run before the body is written.
func popFlashes(c *gin.Context) []Flash {
	s := sessions.Default(c)
	raw := s.Flashes()
	if len(raw) == 0 {
		return nil
	}
	_ = s.Save()

	out := make([]Flash, 0, len(raw))
	for _, v := range raw {
		str, ok := v.(string)
		if !ok {
			continue
		}
		category, msg, found := strings.Cut(str, "|")
		if !found {
			category, msg = flashInfo, str
		}
		out = append(out, Flash{Category: category, Message: msg})
	}
	return out
}
