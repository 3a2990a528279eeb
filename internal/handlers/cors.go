package handlers

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSPolicy mirrors the cors section of the service config.
type CORSPolicy struct {
	AllowOrigins []string
	AllowMethods []string
	AllowHeaders []string
	MaxAge       int
}

func (p CORSPolicy) allowOrigin(origin string) string {
	for _, o := range p.AllowOrigins {
		if o == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}

// enableCORS answers preflight requests for any path and decorates every
// other response with the allowed origin.
func (p CORSPolicy) enableCORS(next http.Handler) http.Handler {
	methods := strings.Join(p.AllowMethods, ",")
	headers := strings.Join(p.AllowHeaders, ",")
	maxAge := strconv.Itoa(p.MaxAge)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed := p.allowOrigin(r.Header.Get("Origin"))
		if allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Expose-Headers", "*")
			if allowed != "*" {
				w.Header().Add("Vary", "Origin")
			}
		}

		if r.Method == http.MethodOptions {
			if allowed != "" {
				w.Header().Set("Access-Control-Allow-Methods", methods)
				w.Header().Set("Access-Control-Allow-Headers", headers)
				if p.MaxAge > 0 {
					w.Header().Set("Access-Control-Max-Age", maxAge)
				}
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
