package offline0

import (
	"net/http"
	"strings"
)

// Entry is a captured response snapshot stored under a request key.
type Entry struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt int64 // unix nanoseconds
	Hash32   uint32
}

// Key returns the cache identity of a request. The proxy only ever produces
// GET keys.
func Key(method, uri string) string {
	return strings.ToUpper(method) + " " + uri
}

func requestKey(r *http.Request) string {
	return Key(r.Method, r.URL.RequestURI())
}

// Outcome names how a request was answered. It is reported to clients in the
// X-Offline0 header.
type Outcome string

const (
	OutcomeBypass     Outcome = "bypass"
	OutcomeNetwork    Outcome = "network"
	OutcomeCache      Outcome = "cache"
	OutcomeShell      Outcome = "shell"
	OutcomeOffline    Outcome = "offline"
	OutcomeBadGateway Outcome = "bad-gateway"
)
