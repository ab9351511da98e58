package middleware

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"strconv"
	"strings"
)

// AcceptEncodingMiddleware gzips successful responses for clients accepting it. Paths in skip
// compress on their own.
func AcceptEncodingMiddleware(skip ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range skip {
				if r.URL.Path == p {
					next.ServeHTTP(w, r)
					return
				}
			}
			if strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
				gzw := newGzipResponseWriter(w)
				defer gzw.Close()
				next.ServeHTTP(gzw, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// gzipResponseWriter buffers the compressed body so Content-Length is known. Error responses
// pass through uncompressed.
type gzipResponseWriter struct {
	http.ResponseWriter
	Writer    *gzip.Writer
	code      int
	codeSet   bool
	written   int
	preBuffer bytes.Buffer
}

func newGzipResponseWriter(w http.ResponseWriter) *gzipResponseWriter {
	res := &gzipResponseWriter{
		ResponseWriter: w,
		code:           200,
	}
	res.Writer = gzip.NewWriter(&res.preBuffer)
	return res
}

func (gzw *gzipResponseWriter) WriteHeader(code int) {
	if gzw.codeSet {
		return
	}
	gzw.codeSet = true
	gzw.code = code
	if gzw.code/100 != 2 {
		gzw.ResponseWriter.WriteHeader(code)
	}
}

func (gzw *gzipResponseWriter) Write(b []byte) (int, error) {
	gzw.codeSet = true
	if gzw.code/100 == 2 {
		gzw.written += len(b)
		return gzw.Writer.Write(b)
	}
	return gzw.ResponseWriter.Write(b)
}

func (gzw *gzipResponseWriter) Close() {
	if gzw.code/100 != 2 {
		return
	}
	gzw.Writer.Close()
	if gzw.written == 0 {
		gzw.ResponseWriter.WriteHeader(gzw.code)
		return
	}
	gzw.Header().Set("Content-Encoding", "gzip")
	gzw.Header().Set("Content-Length", strconv.Itoa(gzw.preBuffer.Len()))
	gzw.ResponseWriter.WriteHeader(gzw.code)
	gzw.ResponseWriter.Write(gzw.preBuffer.Bytes())
}
