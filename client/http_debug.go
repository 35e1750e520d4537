package client

import (
	"net/http"
	"net/http/httputil"
	"os"

	"github.com/rs/zerolog"
)

// debugTransport logs full request and response dumps for troubleshooting
// signature mismatches and unexpected server replies.
//
// Enable it with NCMB_DEBUG=true, DEBUG=true or WithDebugLogging(true).
// Dumps contain session tokens and user data; keep it out of production.
//
//	export NCMB_DEBUG=true
//	go run main.go  # every NCMB call is now logged
type debugTransport struct {
	base http.RoundTripper
	log  zerolog.Logger
}

func (dt *debugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := dt.base
	if base == nil {
		base = http.DefaultTransport
	}
	if reqDump, err := httputil.DumpRequestOut(req, true); err == nil {
		dt.log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Str("request_dump", string(reqDump)).Msg("HTTP request")
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		dt.log.Error().Err(err).Str("method", req.Method).Str("url", req.URL.String()).Msg("HTTP request failed")
		return nil, err
	}

	if respDump, err := httputil.DumpResponse(resp, true); err == nil {
		dt.log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Int("status_code", resp.StatusCode).Str("response_dump", string(respDump)).Msg("HTTP response")
	}
	return resp, nil
}

// debugLoggingRequested reports whether NCMB_DEBUG or DEBUG is "true".
func debugLoggingRequested() bool {
	return os.Getenv("NCMB_DEBUG") == "true" || os.Getenv("DEBUG") == "true"
}
