package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"nhooyr.io/websocket"

	"kusdcore/crypto"
)

const (
	defaultDuration = 2 * time.Minute
	defaultRate     = 600 // deposits per minute
)

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      int             `json:"id"`
}

type eventPayload struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	EmittedAt  int64             `json:"emittedAt"`
}

// latencyTracker matches submitted deposits against the events observed on
// the stream. Deposits are keyed by their raw amount, which the loader keeps
// unique per run.
type latencyTracker struct {
	mu        sync.Mutex
	pending   map[string]time.Time
	latencies []time.Duration
}

func newLatencyTracker() *latencyTracker {
	return &latencyTracker{pending: make(map[string]time.Time)}
}

func (lt *latencyTracker) track(key string, at time.Time) {
	lt.mu.Lock()
	lt.pending[key] = at
	lt.mu.Unlock()
}

func (lt *latencyTracker) finalize(key string, at time.Time) {
	lt.mu.Lock()
	start, ok := lt.pending[key]
	if ok {
		lt.latencies = append(lt.latencies, at.Sub(start))
		delete(lt.pending, key)
	}
	lt.mu.Unlock()
}

func (lt *latencyTracker) snapshot() (latencies []time.Duration, pending int) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	latencies = append([]time.Duration(nil), lt.latencies...)
	pending = len(lt.pending)
	return latencies, pending
}

func (lt *latencyTracker) waitForEmpty(ctx context.Context) bool {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		lt.mu.Lock()
		remaining := len(lt.pending)
		lt.mu.Unlock()
		if remaining == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func main() {
	var (
		rpcURL       string
		callerStr    string
		asset        string
		depositRate  int
		durationFlag time.Duration
		amountBase   int64
	)
	flag.StringVar(&rpcURL, "rpc", "http://127.0.0.1:8080", "RPC endpoint for submitting deposits")
	flag.StringVar(&callerStr, "caller", "", "bech32 depositor address (overrides DEPOSITLOAD_CALLER)")
	flag.StringVar(&asset, "asset", "USDC", "reserve asset symbol to deposit")
	flag.IntVar(&depositRate, "rate", defaultRate, "target rate of deposits per minute")
	flag.DurationVar(&durationFlag, "duration", defaultDuration, "load duration")
	flag.Int64Var(&amountBase, "amount-base", 1_000_000, "starting raw deposit amount; each deposit adds one")
	flag.Parse()

	if callerStr == "" {
		callerStr = os.Getenv("DEPOSITLOAD_CALLER")
	}
	callerStr = strings.TrimSpace(callerStr)
	if callerStr == "" {
		log.Fatal("missing caller: provide --caller or DEPOSITLOAD_CALLER")
	}
	caller, err := crypto.DecodeAddress(callerStr)
	if err != nil {
		log.Fatalf("decode caller: %v", err)
	}

	token := strings.TrimSpace(os.Getenv("KUSD_NODE_TOKEN"))
	if token == "" {
		log.Fatal("missing KUSD_NODE_TOKEN for RPC authentication")
	}
	parsed, err := url.Parse(rpcURL)
	if err != nil {
		log.Fatalf("parse rpc url: %v", err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "http"
	}

	if depositRate <= 0 {
		log.Fatalf("rate must be positive, got %d", depositRate)
	}
	if durationFlag <= 0 {
		durationFlag = defaultDuration
	}
	if amountBase <= 0 {
		log.Fatalf("amount-base must be positive, got %d", amountBase)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	httpClient := &http.Client{Timeout: 10 * time.Second}
	tracker := newLatencyTracker()

	wsURL := *parsed
	switch strings.ToLower(parsed.Scheme) {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = "/ws/events"
	wsURL.RawQuery = ""

	wsCtx, wsCancel := context.WithTimeout(ctx, 5*time.Second)
	conn, _, err := websocket.Dial(wsCtx, wsURL.String(), nil)
	wsCancel()
	if err != nil {
		log.Fatalf("connect event stream: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "load complete")

	streamCtx, streamCancel := context.WithCancel(ctx)
	defer streamCancel()
	go consumeEvents(streamCtx, conn, caller.String(), tracker)

	interval := time.Minute / time.Duration(depositRate)
	if interval <= 0 {
		interval = time.Millisecond
	}
	deadline := time.Now().Add(durationFlag)
	var sequence int64
	var submitted int
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			log.Printf("context cancelled: %v", ctx.Err())
			return
		default:
		}
		amount := big.NewInt(amountBase + sequence)
		if err := submitDeposit(ctx, httpClient, parsed, token, caller, asset, amount); err != nil {
			log.Printf("submit deposit %d failed: %v", sequence, err)
		} else {
			tracker.track(amount.String(), time.Now())
			submitted++
		}
		sequence++
		time.Sleep(interval)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer waitCancel()
	if !tracker.waitForEmpty(waitCtx) {
		_, pending := tracker.snapshot()
		log.Printf("still waiting on events for %d deposits", pending)
	}

	streamCancel()

	latencies, pending := tracker.snapshot()
	reportLoadSummary(latencies, pending, submitted)
}

func submitDeposit(ctx context.Context, client *http.Client, rpcURL *url.URL, token string, caller crypto.Address, asset string, amount *big.Int) error {
	payload := rpcRequest{
		JSONRPC: "2.0",
		Method:  "stable_deposit",
		Params: []interface{}{map[string]string{
			"from":      caller.String(),
			"asset":     asset,
			"amountWei": amount.String(),
		}},
		ID: 1,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rpcURL.String(), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("rpc call: %w", err)
	}
	defer resp.Body.Close()

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("rpc error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	return nil
}

func consumeEvents(ctx context.Context, conn *websocket.Conn, caller string, tracker *latencyTracker) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var payload eventPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			log.Printf("decode event payload: %v", err)
			continue
		}
		if payload.Type != "stable.deposit" {
			continue
		}
		if !strings.EqualFold(payload.Attributes["caller"], caller) {
			continue
		}
		tracker.finalize(payload.Attributes["rawAmount"], time.Now())
	}
}

func reportLoadSummary(latencies []time.Duration, pending int, submitted int) {
	var max time.Duration
	var total time.Duration
	for _, latency := range latencies {
		if latency > max {
			max = latency
		}
		total += latency
	}
	avg := time.Duration(0)
	if len(latencies) > 0 {
		avg = time.Duration(int64(total) / int64(len(latencies)))
	}
	log.Printf("deposit loader submitted %d deposits", submitted)
	log.Printf("observed events for %d deposits (pending: %d)", len(latencies), pending)
	log.Printf("event latency avg=%s max=%s", avg, max)
}
