package rpcclient

import (
	"context"
	"encoding/hex"
	"strconv"

	"github.com/tradingstrategy-ai/vaultscan/chain"
	"github.com/tradingstrategy-ai/vaultscan/transport"
	"github.com/tradingstrategy-ai/vaultscan/verr"
)

// EventSource implements transport.EventSource against the same endpoint a
// Client talks to, via eth_getLogs. It is a separate type rather than a
// method on Client because an embedder may legitimately want to point log
// scanning at a different, log-optimized endpoint than the one serving
// eth_call traffic.
type EventSource struct {
	client *Client
}

// NewEventSource builds an EventSource reusing client's connection.
func NewEventSource(client *Client) *EventSource {
	return &EventSource{client: client}
}

type rpcLog struct {
	Address         string   `json:"address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	BlockNumber     string   `json:"blockNumber"`
	TransactionHash string   `json:"transactionHash"`
	LogIndex        string   `json:"logIndex"`
}

// GetLogs issues eth_getLogs for [fromBlock, toBlock], translating
// transport.LogFilter's OR-within-position/AND-across-position topic
// semantics directly into the RPC method's own filter shape.
func (e *EventSource) GetLogs(ctx context.Context, filter transport.LogFilter, fromBlock, toBlock uint64) ([]transport.Log, error) {
	params := map[string]any{
		"fromBlock": "0x" + strconv.FormatUint(fromBlock, 16),
		"toBlock":   "0x" + strconv.FormatUint(toBlock, 16),
	}
	if len(filter.Addresses) > 0 {
		addrs := make([]string, len(filter.Addresses))
		for i, a := range filter.Addresses {
			addrs[i] = a.String()
		}
		params["address"] = addrs
	}
	if len(filter.Topics) > 0 {
		topics := make([]any, len(filter.Topics))
		for i, position := range filter.Topics {
			if len(position) == 0 {
				topics[i] = nil
				continue
			}
			strs := make([]string, len(position))
			for j, t := range position {
				strs[j] = "0x" + hex.EncodeToString(t[:])
			}
			topics[i] = strs
		}
		params["topics"] = topics
	}

	var rawLogs []rpcLog
	if err := e.client.call(ctx, "eth_getLogs", []any{params}, &rawLogs); err != nil {
		return nil, err
	}

	out := make([]transport.Log, 0, len(rawLogs))
	for _, l := range rawLogs {
		addr, err := chain.ParseAddress(l.Address)
		if err != nil {
			return nil, verr.Wrap(verr.Decode, err, "rpcclient: decoding log address")
		}
		topics := make([][32]byte, 0, len(l.Topics))
		for _, t := range l.Topics {
			raw, err := hexDecode(t)
			if err != nil {
				return nil, verr.Wrap(verr.Decode, err, "rpcclient: decoding log topic")
			}
			var topic [32]byte
			copy(topic[32-len(raw):], raw)
			topics = append(topics, topic)
		}
		data, err := hexDecode(l.Data)
		if err != nil {
			return nil, verr.Wrap(verr.Decode, err, "rpcclient: decoding log data")
		}
		blockNum, err := parseHexUint64(l.BlockNumber)
		if err != nil {
			return nil, verr.Wrap(verr.Decode, err, "rpcclient: decoding log block number")
		}
		logIndex, err := parseHexUint64(l.LogIndex)
		if err != nil {
			return nil, verr.Wrap(verr.Decode, err, "rpcclient: decoding log index")
		}
		var txHash [32]byte
		if raw, err := hexDecode(l.TransactionHash); err == nil {
			copy(txHash[32-len(raw):], raw)
		}
		out = append(out, transport.Log{
			Address:     addr,
			Topics:      topics,
			Data:        data,
			BlockNumber: blockNum,
			TxHash:      txHash,
			LogIndex:    logIndex,
		})
	}
	return out, nil
}
