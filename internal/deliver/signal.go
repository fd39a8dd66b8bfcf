package deliver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// SignalClient talks JSON-RPC to a signal-cli daemon.
type SignalClient struct {
	rpcURL     string
	account    string
	recipient  string
	chunkLimit int
	chunkDelay time.Duration
	client     *http.Client
	sleep      func(time.Duration) // test hook
}

// NewSignalClient creates a SignalClient.
func NewSignalClient(rpcURL, account, recipient string, chunkLimit int, chunkDelay time.Duration) *SignalClient {
	return &SignalClient{
		rpcURL:     rpcURL,
		account:    account,
		recipient:  recipient,
		chunkLimit: chunkLimit,
		chunkDelay: chunkDelay,
		client:     &http.Client{Timeout: 30 * time.Second},
		sleep:      time.Sleep,
	}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int         `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type sendParams struct {
	Account   string   `json:"account"`
	Recipient []string `json:"recipient"`
	Message   string   `json:"message"`
}

// Send delivers one message to the configured recipient.
func (c *SignalClient) Send(ctx context.Context, message string) error {
	if c.recipient == "" {
		return fmt.Errorf("no signal recipient configured")
	}
	_, err := c.call(ctx, "send", sendParams{
		Account:   c.account,
		Recipient: []string{c.recipient},
		Message:   message,
	})
	return err
}

// SendChunks splits text at the configured chunk limit and sends every
// piece in order, pausing between pieces so the daemon keeps up. The first
// failed chunk aborts the rest; the bulletin is already archived, so a
// partial delivery is recoverable by hand.
func (c *SignalClient) SendChunks(ctx context.Context, text string) error {
	chunks := Chunk(text, c.chunkLimit)
	for i, chunk := range chunks {
		if err := c.Send(ctx, chunk); err != nil {
			return fmt.Errorf("sending chunk %d/%d: %w", i+1, len(chunks), err)
		}
		log.Printf("deliver: sent chunk %d/%d (%d chars)", i+1, len(chunks), len(chunk))
		if i < len(chunks)-1 {
			c.sleep(c.chunkDelay)
		}
	}
	return nil
}

// Ping checks that the daemon answers JSON-RPC at all.
func (c *SignalClient) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "version", nil)
	return err
}

func (c *SignalClient) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("signal rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("signal rpc %s: reading response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("signal rpc %s: HTTP %d", method, resp.StatusCode)
	}

	var rr rpcResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, fmt.Errorf("signal rpc %s: decoding response: %w", method, err)
	}
	if rr.Error != nil {
		return nil, fmt.Errorf("signal rpc %s: %s (code %d)", method, rr.Error.Message, rr.Error.Code)
	}
	return rr.Result, nil
}
