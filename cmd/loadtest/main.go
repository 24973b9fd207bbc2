package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aeolun/allchat/pkg/protocol"
	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur."

var loremWords = strings.Fields(loremIpsum)

const botPassword = "loadtest-password"

// Stats tracks performance metrics
type Stats struct {
	broadcastsEchoed  atomic.Int64
	privatesSent      atomic.Int64
	messagesFailed    atomic.Int64
	totalResponseTime atomic.Int64 // in microseconds
	connectionErrors  atomic.Int64
	disconnections    atomic.Int64
}

func (s *Stats) recordEcho(responseTimeUs int64) {
	s.broadcastsEchoed.Add(1)
	s.totalResponseTime.Add(responseTimeUs)
}

func (s *Stats) snapshot() (echoed, private, failed, connErrors int64, avgResponseUs float64) {
	echoed = s.broadcastsEchoed.Load()
	private = s.privatesSent.Load()
	failed = s.messagesFailed.Load()
	connErrors = s.connectionErrors.Load()
	if echoed > 0 {
		avgResponseUs = float64(s.totalResponseTime.Load()) / float64(echoed)
	}
	return
}

// BotClient is a scripted chat user
type BotClient struct {
	id       int
	username string
	baseURL  string
	conn     *websocket.Conn
	stats    *Stats
	peers    []string

	writeMu sync.Mutex
	// Send times of broadcasts awaiting their echo, oldest first
	pendingMu sync.Mutex
	pending   []time.Time
}

func NewBotClient(id int, baseURL, prefix string, peers []string, stats *Stats) *BotClient {
	return &BotClient{
		id:       id,
		username: fmt.Sprintf("%s%d", prefix, id),
		baseURL:  strings.TrimRight(baseURL, "/"),
		stats:    stats,
		peers:    peers,
	}
}

func (bc *BotClient) post(path string) (map[string]interface{}, int, error) {
	body, _ := json.Marshal(map[string]string{"username": bc.username, "password": botPassword})
	resp, err := http.Post(bc.baseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, resp.StatusCode, err
	}
	return out, resp.StatusCode, nil
}

// Connect registers the bot if needed, logs in and opens the websocket
func (bc *BotClient) Connect() error {
	if _, status, err := bc.post("/api/register"); err != nil {
		return err
	} else if status != http.StatusCreated && status != http.StatusConflict {
		return fmt.Errorf("register %s: status %d", bc.username, status)
	}

	out, status, err := bc.post("/api/login")
	if err != nil {
		return err
	}
	token, _ := out["token"].(string)
	if status != http.StatusOK || token == "" {
		return fmt.Errorf("login %s: status %d", bc.username, status)
	}

	u, err := url.Parse(bc.baseURL)
	if err != nil {
		return err
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return err
	}
	bc.conn = conn

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		return err
	}
	if env.Event != protocol.EventAuthenticated {
		return fmt.Errorf("expected authenticated, got %s", env.Event)
	}
	conn.SetReadDeadline(time.Time{})
	return nil
}

func (bc *BotClient) send(event string, payload interface{}) error {
	frame, err := protocol.EncodeEvent(event, payload)
	if err != nil {
		return err
	}
	bc.writeMu.Lock()
	defer bc.writeMu.Unlock()
	return bc.conn.WriteMessage(websocket.TextMessage, frame)
}

// readLoop matches broadcast echoes and error replies to pending sends
func (bc *BotClient) readLoop() {
	for {
		_, data, err := bc.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				bc.stats.disconnections.Add(1)
			}
			return
		}
		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			continue
		}

		switch env.Event {
		case protocol.EventBroadcastMessage:
			var msg protocol.BroadcastMessage
			if env.DecodePayload(&msg) != nil || msg.Username != bc.username {
				continue
			}
			if sent, ok := bc.popPending(); ok {
				bc.stats.recordEcho(time.Since(sent).Microseconds())
			}
		case protocol.EventError:
			var msg protocol.ErrorMessage
			if env.DecodePayload(&msg) == nil && msg.Event == protocol.EventSendBroadcast {
				bc.popPending()
			}
			bc.stats.messagesFailed.Add(1)
		}
	}
}

func (bc *BotClient) popPending() (time.Time, bool) {
	bc.pendingMu.Lock()
	defer bc.pendingMu.Unlock()
	if len(bc.pending) == 0 {
		return time.Time{}, false
	}
	sent := bc.pending[0]
	bc.pending = bc.pending[1:]
	return sent, true
}

func randomContent() string {
	wordCount := 5 + rand.Intn(16)
	words := make([]string, 0, wordCount)
	for i := 0; i < wordCount; i++ {
		words = append(words, loremWords[rand.Intn(len(loremWords))])
	}
	return strings.Join(words, " ")
}

// PostRandomMessage sends a broadcast (90%) or a private message to a peer (10%)
func (bc *BotClient) PostRandomMessage() error {
	content := randomContent()

	if len(bc.peers) > 1 && rand.Float32() < 0.1 {
		peer := bc.peers[rand.Intn(len(bc.peers))]
		if peer == bc.username {
			return nil
		}
		if err := bc.send(protocol.EventSendPrivate, protocol.SendPrivateMessage{Recipient: peer, Content: content}); err != nil {
			bc.stats.messagesFailed.Add(1)
			return err
		}
		bc.stats.privatesSent.Add(1)
		return nil
	}

	bc.pendingMu.Lock()
	bc.pending = append(bc.pending, time.Now())
	bc.pendingMu.Unlock()

	if err := bc.send(protocol.EventSendBroadcast, protocol.SendBroadcastMessage{Content: content}); err != nil {
		bc.popPending()
		bc.stats.messagesFailed.Add(1)
		return err
	}
	return nil
}

func (bc *BotClient) Run(duration, minDelay, maxDelay, shutdownDelay time.Duration) {
	defer bc.conn.Close()

	done := make(chan struct{})
	go func() {
		bc.readLoop()
		close(done)
	}()

	// Initial history fetch, like a client opening the chat
	bc.send(protocol.EventRequestBroadcast, nil)

	endTime := time.Now().Add(duration)
	for time.Now().Before(endTime) {
		if err := bc.PostRandomMessage(); err != nil {
			if errors.Is(err, websocket.ErrCloseSent) {
				return
			}
		}

		delay := minDelay
		if maxDelay > minDelay {
			delay += time.Duration(rand.Int63n(int64(maxDelay - minDelay)))
		}
		time.Sleep(delay)
	}

	// Stagger shutdown to avoid thundering herd on disconnect
	if shutdownDelay > 0 {
		time.Sleep(shutdownDelay)
	}

	bc.send(protocol.EventLogout, nil)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
}

func main() {
	serverURL := pflag.String("server", "http://localhost:3000", "Server base URL")
	numClients := pflag.IntP("clients", "c", 10, "Number of concurrent clients")
	prefix := pflag.String("prefix", "bot_", "Username prefix for bot accounts")
	duration := pflag.DurationP("duration", "d", 1*time.Minute, "Test duration")
	minDelay := pflag.Duration("min-delay", 100*time.Millisecond, "Minimum delay between posts")
	maxDelay := pflag.Duration("max-delay", 1*time.Second, "Maximum delay between posts")
	pflag.Parse()

	// Ramp up over 25% of test duration
	rampUpDuration := *duration / 4
	staggerDelay := rampUpDuration / time.Duration(*numClients)
	if staggerDelay < time.Millisecond {
		staggerDelay = time.Millisecond
	}

	log.Printf("Starting load test:")
	log.Printf("  Server: %s", *serverURL)
	log.Printf("  Clients: %d", *numClients)
	log.Printf("  Duration: %v", *duration)
	log.Printf("  Ramp-up: %v (%v per client)", rampUpDuration, staggerDelay)
	log.Printf("  Delay: %v - %v", *minDelay, *maxDelay)

	peers := make([]string, *numClients)
	for i := range peers {
		peers[i] = fmt.Sprintf("%s%d", *prefix, i)
	}

	stats := &Stats{}
	var wg sync.WaitGroup

	stopStats := make(chan struct{})
	var stopOnce sync.Once
	stop := func() { stopOnce.Do(func() { close(stopStats) }) }

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		startTime := time.Now()
		for {
			select {
			case <-ticker.C:
				echoed, private, failed, connErrors, avgUs := stats.snapshot()
				rate := float64(echoed) / time.Since(startTime).Seconds()
				log.Printf("Stats: %d broadcasts echoed (%.1f/s), %d private, %d failed, %d conn errors, avg %.2fms",
					echoed, rate, private, failed, connErrors, avgUs/1000.0)
			case <-stopStats:
				return
			}
		}
	}()

	for i := 0; i < *numClients; i++ {
		wg.Add(1)
		shutdownDelay := staggerDelay * time.Duration(*numClients-i-1)

		go func(id int, shutdownDelay time.Duration) {
			defer wg.Done()

			bot := NewBotClient(id, *serverURL, *prefix, peers, stats)
			if err := bot.Connect(); err != nil {
				stats.connectionErrors.Add(1)
				if id%100 == 0 {
					log.Printf("[Bot %d] connect failed: %v", id, err)
				}
				return
			}

			if id%100 == 0 {
				log.Printf("[Bot %d] Connected as %s", id, bot.username)
			}

			bot.Run(*duration, *minDelay, *maxDelay, shutdownDelay)
		}(i, shutdownDelay)

		time.Sleep(staggerDelay)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Printf("Shutdown signal received, stopping stats...")
		stop()
	}()

	wg.Wait()
	stop()

	echoed, private, failed, connErrors, avgUs := stats.snapshot()
	log.Printf("=== Final Results ===")
	log.Printf("Duration: %v", *duration)
	log.Printf("Broadcasts echoed: %d (%.1f/s)", echoed, float64(echoed)/duration.Seconds())
	log.Printf("Private messages sent: %d", private)
	log.Printf("Failures: %d", failed)
	log.Printf("Disconnections: %d", stats.disconnections.Load())
	log.Printf("Connection errors: %d", connErrors)
	log.Printf("Average broadcast round trip: %.2fms", avgUs/1000.0)
}
