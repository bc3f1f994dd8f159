package api

import (
	"distributed-kvstore/internal/apierr"
	"fmt"
	"strconv"
	"strings"
)

// parseReplicas parses a "replicas=ack/from" query value. An empty raw
// value defaults to ack = clusterSize/2+1, from = clusterSize.
func parseReplicas(raw string, clusterSize int) (ack, from int, err error) {
	if raw == "" {
		return clusterSize/2 + 1, clusterSize, nil
	}

	parts := strings.SplitN(raw, "/", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: replicas must be ack/from, got %q", apierr.BadParameters, raw)
	}

	ack, errA := strconv.Atoi(parts[0])
	from, errF := strconv.Atoi(parts[1])
	if errA != nil || errF != nil {
		return 0, 0, fmt.Errorf("%w: replicas must be integers, got %q", apierr.BadParameters, raw)
	}

	if ack < 1 || ack > from || from > clusterSize || from < 1 {
		return 0, 0, fmt.Errorf("%w: replicas %d/%d invalid for cluster size %d", apierr.BadParameters, ack, from, clusterSize)
	}
	return ack, from, nil
}

// validateKey enforces the non-empty id constraint shared by /v0/entity and
// /v0/entities' start parameter.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: id must not be empty", apierr.BadParameters)
	}
	return nil
}
