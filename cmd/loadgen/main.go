// Command loadgen fires concurrent chat-completions requests at a
// running gateway and tallies admit/deny/error outcomes. It is a plain
// HTTP client: all rate-limiting logic lives in the gateway, not here.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

type counters struct {
	admitted int64
	denied   int64
	errored  int64
}

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8080", "gateway base address")
	credential := flag.String("credential", "sk-loadtest", "bearer credential to send")
	concurrency := flag.Int("concurrency", 4, "number of concurrent workers")
	duration := flag.Duration("duration", 10*time.Second, "how long to run")
	flag.Parse()

	body, err := json.Marshal(requestBody())
	if err != nil {
		fmt.Println("loadgen: marshal request body:", err)
		return
	}

	var c counters
	deadline := time.Now().Add(*duration)

	var wg sync.WaitGroup
	client := &http.Client{Timeout: 5 * time.Second}
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				fire(client, *addr, *credential, body, &c)
			}
		}()
	}
	wg.Wait()

	fmt.Printf("admitted=%d denied=%d errored=%d\n",
		atomic.LoadInt64(&c.admitted), atomic.LoadInt64(&c.denied), atomic.LoadInt64(&c.errored))
}

func fire(client *http.Client, addr, credential string, body []byte, c *counters) {
	req, err := http.NewRequest(http.MethodPost, addr+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		atomic.AddInt64(&c.errored, 1)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := client.Do(req)
	if err != nil {
		atomic.AddInt64(&c.errored, 1)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		atomic.AddInt64(&c.admitted, 1)
	case resp.StatusCode == http.StatusTooManyRequests:
		atomic.AddInt64(&c.denied, 1)
	default:
		atomic.AddInt64(&c.errored, 1)
	}
}

func requestBody() map[string]any {
	return map[string]any{
		"model": "mock-model",
		"messages": []map[string]any{
			{"role": "user", "content": "load generator probe"},
		},
		"max_tokens": 32,
	}
}
