//go:build linux

package server

import (
	"bufio"
	"context"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// logListenBacklog logs the kernel's listen backlog limit
func logListenBacklog(addr string) {
	somaxconn := 0
	if data, err := os.ReadFile("/proc/sys/net/core/somaxconn"); err == nil {
		somaxconn, _ = strconv.Atoi(strings.TrimSpace(string(data)))
	}

	log.Printf("HTTP server listening on %s (kernel listen backlog: %d)", addr, somaxconn)
	if somaxconn > 0 && somaxconn < 4096 {
		log.Printf("WARNING: net.core.somaxconn=%d may be too low for bursts of reconnecting clients", somaxconn)
	}
}

// monitorListenOverflows logs connections dropped by a full accept queue
// until ctx is cancelled.
func monitorListenOverflows(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := listenOverflows()
	for {
		select {
		case <-ticker.C:
			current := listenOverflows()
			if current > last {
				errorLog.Printf("%d connection(s) dropped by listen backlog overflow (total: %d)", current-last, current)
			}
			last = current
		case <-ctx.Done():
			return
		}
	}
}

// listenOverflows reads the TcpExt ListenOverflows counter
func listenOverflows() uint64 {
	file, err := os.Open("/proc/net/netstat")
	if err != nil {
		return 0
	}
	defer file.Close()

	var headers, values []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "TcpExt:") {
			continue
		}
		if headers == nil {
			headers = strings.Fields(line)[1:]
		} else {
			values = strings.Fields(line)[1:]
			break
		}
	}

	for i, header := range headers {
		if header == "ListenOverflows" && i < len(values) {
			n, _ := strconv.ParseUint(values[i], 10, 64)
			return n
		}
	}
	return 0
}
