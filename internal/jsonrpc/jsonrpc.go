// Package jsonrpc implements the method table for the agent-facing
// JSON-RPC surface (spec §6 "Agent-facing RPC (JSON-RPC over HTTP)"). The
// HTTP listener itself is the out-of-scope "surrounding RPC endpoint"
// (spec §1); this package only implements the method dispatch and
// request/response codec as a plain function, `Handler.Handle([]byte)
// []byte`, so any net/http (or other transport) server can mount it.
// Grounded on original_source/src/3pc/agent/rpc/http_server.cpp's method
// table (eth_sendRawTransaction/eth_getTransactionCount/
// eth_getTransactionReceipt/eth_getBalance) and error-code set.
package jsonrpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mit-dci/opencbdc-tx-go/internal/agent"
	"github.com/mit-dci/opencbdc-tx-go/internal/evm/host"
	"github.com/mit-dci/opencbdc-tx-go/internal/evm/runner"
	"github.com/mit-dci/opencbdc-tx-go/internal/u256"
)

// evmFunctionKey is the function_key every EVM-bound request locks
// before a runner is constructed (spec §4.5 point 1). The JSON-RPC
// front-end always selects the EVM runner kind statically (spec §9
// "dynamic dispatch over runner kinds... select statically at the call
// site"), so unlike the script-runner variant's per-script function_key,
// every request here shares one sentinel key: there is exactly one
// loaded "function" (the EVM) this front-end ever invokes.
var evmFunctionKey = []byte("evm")

// Error codes for the user-visible JSON-RPC error object (spec §7 "a
// standardized error object with code from the locally-defined code set").
const (
	CodeInvalidAddress        = -32010
	CodeExecutionError        = -32011
	CodeInternalError         = -32603
	CodeNotFound              = -32012
	CodeInvalidBlockParameter = -32013
	CodeMethodNotFound        = -32601
	CodeInvalidParams         = -32602
)

// Request is one JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response is one JSON-RPC 2.0 response envelope. Exactly one of Result
// or Error is populated, never both (enforced by the constructors below).
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Handler dispatches JSON-RPC requests to an agent.Coordinator driving
// the EVM runner.
type Handler struct {
	coord   *agent.Coordinator
	corsAny bool
}

// NewHandler returns a Handler routing execute/read requests through
// coord. allowAnyOrigin toggles CORS (spec §6 "CORS is optional,
// configurable"), surfaced via AllowAnyOrigin for the mounting HTTP
// server to read back.
func NewHandler(coord *agent.Coordinator, allowAnyOrigin bool) *Handler {
	return &Handler{coord: coord, corsAny: allowAnyOrigin}
}

// AllowAnyOrigin reports this Handler's configured CORS policy.
func (h *Handler) AllowAnyOrigin() bool { return h.corsAny }

// Handle decodes one JSON-RPC request, dispatches it, and returns the
// encoded response. Malformed input and unknown methods produce a
// JSON-RPC error response rather than a transport-level failure (spec §6
// "Unknown methods return JSON-RPC error").
func (h *Handler) Handle(raw []byte) []byte {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return encodeError(nil, CodeInvalidParams, "invalid JSON-RPC request: "+err.Error())
	}

	switch req.Method {
	case "eth_sendRawTransaction":
		return h.sendRawTransaction(req)
	case "eth_getTransactionCount":
		return h.getTransactionCount(req)
	case "eth_getTransactionReceipt":
		return h.getTransactionReceipt(req)
	case "eth_getBalance":
		return h.getBalance(req)
	default:
		return encodeError(req.ID, CodeMethodNotFound, fmt.Sprintf("the method %s does not exist", req.Method))
	}
}

func (h *Handler) sendRawTransaction(req Request) []byte {
	var params [1]string
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return encodeError(req.ID, CodeInvalidParams, "expected [rawTxHex]")
	}
	raw, err := decodeHex(params[0])
	if err != nil {
		return encodeError(req.ID, CodeInvalidParams, err.Error())
	}

	out, err := h.coord.Exec(agent.Request{
		FunctionKey: evmFunctionKey,
		Selector:    runner.ExecuteTransaction,
		Params:      raw,
	})
	if err != nil {
		return encodeError(req.ID, CodeExecutionError, err.Error())
	}
	return encodeResult(req.ID, encodeHash(out.TxHash))
}

func (h *Handler) getTransactionCount(req Request) []byte {
	var params [2]string
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return encodeError(req.ID, CodeInvalidParams, "expected [addressHex, blockTag]")
	}
	if params[1] != "latest" && params[1] != "" {
		return encodeError(req.ID, CodeInvalidBlockParameter, "only \"latest\" is supported")
	}
	addr, err := decodeAddress(params[0])
	if err != nil {
		return encodeError(req.ID, CodeInvalidAddress, err.Error())
	}

	out, err := h.coord.Exec(agent.Request{
		FunctionKey: evmFunctionKey,
		Selector:    runner.ReadAccount,
		Params:      addr[:],
		DryRun:      true,
	})
	if err != nil {
		return encodeError(req.ID, CodeExecutionError, err.Error())
	}
	acc := host.DecodeAccount(out.Value)
	count := u256.Add(acc.Nonce, u256.FromUint64(1))
	return encodeResult(req.ID, encodeQuantity(count))
}

func (h *Handler) getBalance(req Request) []byte {
	var params [2]string
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return encodeError(req.ID, CodeInvalidParams, "expected [addressHex, blockTag]")
	}
	addr, err := decodeAddress(params[0])
	if err != nil {
		return encodeError(req.ID, CodeInvalidAddress, err.Error())
	}

	out, err := h.coord.Exec(agent.Request{
		FunctionKey: evmFunctionKey,
		Selector:    runner.ReadAccount,
		Params:      addr[:],
		DryRun:      true,
	})
	if err != nil {
		return encodeError(req.ID, CodeExecutionError, err.Error())
	}
	acc := host.DecodeAccount(out.Value)
	return encodeResult(req.ID, encodeQuantity(acc.Balance))
}

func (h *Handler) getTransactionReceipt(req Request) []byte {
	var params [1]string
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return encodeError(req.ID, CodeInvalidParams, "expected [txHashHex]")
	}
	txHash, err := decodeHash(params[0])
	if err != nil {
		return encodeError(req.ID, CodeInvalidParams, err.Error())
	}

	out, err := h.coord.Exec(agent.Request{
		FunctionKey: evmFunctionKey,
		Selector:    runner.GetTransactionReceipt,
		Params:      txHash[:],
		DryRun:      true,
	})
	if err != nil {
		return encodeError(req.ID, CodeExecutionError, err.Error())
	}
	if len(out.Value) == 0 {
		return encodeResult(req.ID, nil)
	}
	r, err := host.DecodeReceipt(out.Value)
	if err != nil {
		return encodeError(req.ID, CodeInternalError, err.Error())
	}

	resp := map[string]interface{}{
		"transactionHash": "0x" + hex.EncodeToString(txHash[:]),
		"status":          statusHex(r.Status),
		"gasUsed":         fmt.Sprintf("0x%x", r.GasUsed),
		"logs":            encodeLogs(r.Logs),
	}
	if r.CreatedAddress != nil {
		resp["contractAddress"] = "0x" + hex.EncodeToString(r.CreatedAddress[:])
	} else {
		resp["contractAddress"] = nil
	}
	return encodeResult(req.ID, resp)
}

func statusHex(s host.Status) string {
	if s == host.StatusSuccess {
		return "0x1"
	}
	return "0x0"
}

func encodeLogs(logs []host.LogEntry) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(logs))
	for _, lg := range logs {
		topics := make([]string, 0, len(lg.Topics))
		for _, t := range lg.Topics {
			topics = append(topics, "0x"+hex.EncodeToString(t[:]))
		}
		out = append(out, map[string]interface{}{
			"address": "0x" + hex.EncodeToString(lg.Address[:]),
			"topics":  topics,
			"data":    "0x" + hex.EncodeToString(lg.Data),
		})
	}
	return out
}

func encodeResult(id json.RawMessage, result interface{}) []byte {
	b, _ := json.Marshal(Response{JSONRPC: "2.0", ID: id, Result: result})
	return b
}

func encodeError(id json.RawMessage, code int, msg string) []byte {
	b, _ := json.Marshal(Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: msg}})
	return b
}

func encodeHash(h [32]byte) string { return "0x" + hex.EncodeToString(h[:]) }

func encodeQuantity(v u256.U256) string {
	s := strings.TrimLeft(hex.EncodeToString(v.Bytes()), "0")
	if s == "" {
		s = "0"
	}
	return "0x" + s
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	if len(s)%2 != 0 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

func decodeAddress(s string) ([20]byte, error) {
	var addr [20]byte
	b, err := decodeHex(s)
	if err != nil {
		return addr, err
	}
	if len(b) != 20 {
		return addr, fmt.Errorf("expected a 20-byte address, got %d bytes", len(b))
	}
	copy(addr[:], b)
	return addr, nil
}

func decodeHash(s string) ([32]byte, error) {
	var h [32]byte
	b, err := decodeHex(s)
	if err != nil {
		return h, err
	}
	if len(b) != 32 {
		return h, fmt.Errorf("expected a 32-byte hash, got %d bytes", len(b))
	}
	copy(h[:], b)
	return h, nil
}
