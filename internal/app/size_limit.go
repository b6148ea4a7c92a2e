package app

import "net/http"

// SizeLimiter caps the inbound request body via http.MaxBytesReader before
// a handler reads it, and rejects oversized query strings up front (spec
// §6.1: body 32 MiB, query string 8 KiB).
type SizeLimiter struct {
	maxBody  int64
	maxQuery int
}

const maxQueryStringBytes = 8 << 10

func NewSizeLimiter(maxBody int64) *SizeLimiter {
	return &SizeLimiter{maxBody: maxBody, maxQuery: maxQueryStringBytes}
}

func (s *SizeLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.URL.RawQuery) > s.maxQuery {
			http.Error(w, "query string too large", http.StatusBadRequest)
			return
		}
		if s.maxBody > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		}
		next.ServeHTTP(w, r)
	})
}
