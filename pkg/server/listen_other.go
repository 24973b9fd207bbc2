//go:build !linux

package server

import (
	"context"
	"log"
	"time"
)

// logListenBacklog logs the listen address
func logListenBacklog(addr string) {
	log.Printf("HTTP server listening on %s", addr)
}

// monitorListenOverflows is a no-op outside Linux
func monitorListenOverflows(ctx context.Context, interval time.Duration) {}
