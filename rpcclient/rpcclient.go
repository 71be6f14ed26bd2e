// Package rpcclient is the one concrete transport.EvmClient/EventSource
// implementation this repository ships, talking plain JSON-RPC over HTTP.
// Every other component treats EvmClient/EventSource as capabilities an
// embedder supplies; this package exists so the cmd/vaultscan binary has
// something real to embed with rather than shipping uninstantiable core
// packages. It deliberately stays on net/http and encoding/json: no example
// in this codebase's ancestry ever implements an RPC *client* (the teacher
// is itself a node, answering RPC calls rather than issuing them), so there
// is no ecosystem library in this lineage to ground a client on.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tradingstrategy-ai/vaultscan/chain"
	"github.com/tradingstrategy-ai/vaultscan/transport"
	"github.com/tradingstrategy-ai/vaultscan/verr"
)

// Client is a single JSON-RPC endpoint. It implements transport.EvmClient
// but not transport.Aggregator: MulticallAvailable always reports false, so
// multicall.Batcher falls back to its one-call-per-leaf loop rather than
// risk an untested ABI tuple-array encoding for a real multicall contract.
type Client struct {
	url        string
	chainID    chain.ID
	httpClient *http.Client
}

// New dials url, confirming it answers JSON-RPC by asking its chain ID.
func New(ctx context.Context, url string) (*Client, error) {
	c := &Client{url: url, httpClient: &http.Client{Timeout: 30 * time.Second}}
	var hexID string
	if err := c.call(ctx, "eth_chainId", nil, &hexID); err != nil {
		return nil, err
	}
	id, err := parseHexUint64(hexID)
	if err != nil {
		return nil, verr.Wrap(verr.Transport, err, "rpcclient: parsing eth_chainId response")
	}
	c.chainID = chain.ID(id)
	return c, nil
}

// ChainID returns the chain ID observed at dial time.
func (c *Client) ChainID() chain.ID { return c.chainID }

// Call issues eth_call against target at block.
func (c *Client) Call(ctx context.Context, target chain.Address, data []byte, block transport.Block) ([]byte, error) {
	params := []any{
		map[string]string{"to": target.String(), "data": "0x" + hex.EncodeToString(data)},
		blockParam(block),
	}
	var hexResult string
	if err := c.call(ctx, "eth_call", params, &hexResult); err != nil {
		return nil, err
	}
	return hexDecode(hexResult)
}

// MulticallAvailable always reports false; see the package doc comment.
func (c *Client) MulticallAvailable(ctx context.Context, block transport.Block) (bool, error) {
	return false, nil
}

type blockHeader struct {
	Timestamp string `json:"timestamp"`
}

// GetBlockTimestamp issues eth_getBlockByNumber and decodes its timestamp.
func (c *Client) GetBlockTimestamp(ctx context.Context, block transport.Block) (uint64, error) {
	var hdr blockHeader
	if err := c.call(ctx, "eth_getBlockByNumber", []any{blockParam(block), false}, &hdr); err != nil {
		return 0, err
	}
	ts, err := parseHexUint64(hdr.Timestamp)
	if err != nil {
		return 0, verr.Wrap(verr.Decode, err, "rpcclient: parsing block timestamp")
	}
	return ts, nil
}

// LatestBlock issues eth_blockNumber.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	var hexHeight string
	if err := c.call(ctx, "eth_blockNumber", nil, &hexHeight); err != nil {
		return 0, err
	}
	height, err := parseHexUint64(hexHeight)
	if err != nil {
		return 0, verr.Wrap(verr.Decode, err, "rpcclient: parsing eth_blockNumber response")
	}
	return height, nil
}

// StorageAt issues eth_getStorageAt.
func (c *Client) StorageAt(ctx context.Context, target chain.Address, slot [32]byte, block transport.Block) ([32]byte, error) {
	params := []any{target.String(), "0x" + hex.EncodeToString(slot[:]), blockParam(block)}
	var hexResult string
	if err := c.call(ctx, "eth_getStorageAt", params, &hexResult); err != nil {
		return [32]byte{}, err
	}
	raw, err := hexDecode(hexResult)
	if err != nil {
		return [32]byte{}, verr.Wrap(verr.Decode, err, "rpcclient: decoding storage slot value")
	}
	var out [32]byte
	copy(out[32-len(raw):], raw)
	return out, nil
}

func blockParam(b transport.Block) string {
	if b.Latest {
		return "latest"
	}
	return "0x" + strconv.FormatUint(b.Number, 16)
}

func hexDecode(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	if s == "" {
		return nil, nil
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

func parseHexUint64(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 16, 64)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call issues one JSON-RPC request and decodes its result into out (a
// pointer), or returns a classified verr.Error if the endpoint rejected the
// request or a transport-level error prevented the round trip.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return verr.Wrap(verr.Decode, err, "rpcclient: encoding request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return verr.Wrap(verr.Transport, err, "rpcclient: building request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return verr.Wrap(verr.Transport, err, fmt.Sprintf("rpcclient: calling %s", method))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return verr.Wrap(verr.Transport, err, "rpcclient: reading response body")
	}
	if resp.StatusCode != http.StatusOK {
		return verr.New(verr.Transport, fmt.Sprintf("rpcclient: %s returned HTTP %d", method, resp.StatusCode))
	}

	var parsed rpcResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return verr.Wrap(verr.Decode, err, "rpcclient: decoding response envelope")
	}
	if parsed.Error != nil {
		return classifyRPCError(method, parsed.Error)
	}
	if out == nil || len(parsed.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(parsed.Result, out); err != nil {
		return verr.Wrap(verr.Decode, err, fmt.Sprintf("rpcclient: decoding %s result", method))
	}
	return nil
}

// classifyRPCError maps a JSON-RPC error onto the taxonomy: a revert
// surfaces distinctively in "execution reverted" / "VM Exception" style
// messages from every mainstream node implementation; anything else is
// treated as a retryable transport failure.
func classifyRPCError(method string, e *rpcError) error {
	msg := strings.ToLower(e.Message)
	if strings.Contains(msg, "revert") || strings.Contains(msg, "vm exception") {
		return verr.New(verr.Revert, e.Message)
	}
	return verr.New(verr.Transport, fmt.Sprintf("rpcclient: %s: %s", method, e.Message))
}
