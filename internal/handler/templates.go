package handler

import (
	"html/template"
	"time"

	"github.com/mhollstein/briefwerk/internal/domain"
)

// TemplateFuncs returns a FuncMap with custom template functions
func TemplateFuncs() template.FuncMap {
	return template.FuncMap{
		"add": func(a, b int) int {
			return a + b
		},
		"year": func() int {
			return time.Now().Year()
		},
		"stepReached": func(current domain.Step, step int) bool {
			return int(current) >= step
		},
		"logClass": func(status domain.LogStatus) string {
			switch status {
			case domain.LogSuccess:
				return "log-success"
			case domain.LogError:
				return "log-error"
			default:
				return "log-info"
			}
		},
	}
}
