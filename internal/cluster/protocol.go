package cluster

// Wire headers exchanged between an originating node and the replicas it
// proxies a request to. They live here so the HTTP layer and the PeerClient
// agree without a constants import cycle back into internal/api.
const (
	// ProxyHeader's mere presence marks a request as an intra-cluster
	// proxy hop rather than a client-originated request.
	ProxyHeader = "Proxy_Header"

	// TimestampHeader carries a Value's millisecond timestamp. Read on
	// proxy GET responses and on proxy PUT/DELETE requests, where it lets
	// every replica install the exact same timestamp the originator
	// stamped instead of re-stamping on arrival.
	TimestampHeader = "Timestamp_Header"

	// ExpiresHeader carries a PUT's expiration deadline in epoch millis.
	ExpiresHeader = "Expires"
)
