package api

import (
	"net/http"
)

// HTTPClient is the transport seam; *http.Client satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
