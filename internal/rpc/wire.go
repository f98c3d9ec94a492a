package rpc

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/bridge_client/internal/errors"
	"github.com/R3E-Network/bridge_client/internal/pack"
	"github.com/R3E-Network/bridge_client/internal/signature"
)

// =============================================================================
// Version 2
// =============================================================================

func submitParams(p TxParams, hash [32]byte) (interface{}, error) {
	in, err := txInput(p)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"tx": map[string]interface{}{
			"hash":     pack.EncodeBase64(hash[:]),
			"version":  TransactionVersion,
			"selector": p.TxSelector(),
			"in":       pack.TypedValue{T: TxInputType, V: in},
		},
	}, nil
}

func parseTransaction(result json.RawMessage) (*Transaction, error) {
	tx := &Transaction{
		Selector: gjson.GetBytes(result, "tx.selector").String(),
		Status:   ParseTxStatus(gjson.GetBytes(result, "txStatus").String()),
	}

	if h := gjson.GetBytes(result, "tx.hash"); h.Exists() {
		hash, err := pack.DecodeBase64(h.String())
		if err != nil {
			return nil, errors.SchemaMismatch("hash", "invalid base64")
		}
		tx.Hash = hash
	}

	in, err := typedStruct(result, "tx.in")
	if err != nil {
		return nil, fmt.Errorf("decode tx.in: %w", err)
	}
	out, err := typedStruct(result, "tx.out")
	if err != nil {
		return nil, fmt.Errorf("decode tx.out: %w", err)
	}
	tx.In, tx.Out = in, out

	if amount, ok := out.Int("amount"); ok {
		tx.Amount = amount
	} else if amount, ok := in.Int("amount"); ok {
		tx.Amount = amount
	}
	if nhash, ok := out.Bytes("nhash"); ok {
		tx.NHash = nhash
	} else if nhash, ok := in.Bytes("nhash"); ok {
		tx.NHash = nhash
	}
	if sighash, ok := out.Bytes("sighash"); ok {
		tx.SigHash = sighash
	}
	if raw, ok := out.Bytes("sig"); ok && len(raw) > 0 {
		sig, err := signature.FromBytes(raw)
		if err != nil {
			return nil, err
		}
		tx.Signature = &sig
	}
	if revert, ok := out.Str("revert"); ok && revert != "" {
		tx.Revert = revert
		tx.Status = StatusReverted
	}
	return tx, nil
}

// typedStruct decodes the typed value at path. An absent, null or empty
// value yields a nil struct.
func typedStruct(result json.RawMessage, path string) (*pack.StructValue, error) {
	node := gjson.GetBytes(result, path)
	if !node.Exists() || node.Type == gjson.Null || !node.Get("t").Exists() {
		return nil, nil
	}
	var tv pack.TypedValue
	if err := json.Unmarshal([]byte(node.Raw), &tv); err != nil {
		return nil, err
	}
	s := tv.Struct()
	if s == nil {
		return nil, errors.SchemaMismatch("", fmt.Sprintf("%s is not a struct", path))
	}
	return s, nil
}

// =============================================================================
// Version 1
// =============================================================================

type legacyArg struct {
	Name  string          `json:"name"`
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

func legacyArgValue(name, typ string, value interface{}) (legacyArg, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return legacyArg{}, err
	}
	return legacyArg{Name: name, Type: typ, Value: raw}, nil
}

func legacySubmitParams(p TxParams) (interface{}, error) {
	var args []legacyArg
	add := func(name, typ string, value interface{}) error {
		arg, err := legacyArgValue(name, typ, value)
		if err != nil {
			return err
		}
		args = append(args, arg)
		return nil
	}

	switch params := p.(type) {
	case MintParams:
		std := base64.StdEncoding.EncodeToString
		steps := []error{
			add("p", "ext_ethCompatPayload", map[string]string{
				"abi":   std(params.FnABI),
				"value": std(params.Payload),
				"fn":    std([]byte(params.FnName)),
			}),
			add("token", "b20", strings.TrimPrefix(strings.ToLower(params.Token.Hex()), "0x")),
			add("to", "b20", strings.TrimPrefix(strings.ToLower(params.To.Hex()), "0x")),
			add("n", "b32", std(params.Nonce[:])),
			add("utxo", "ext_btcCompatUTXO", map[string]string{
				"txHash": std(params.TxID),
				"vOut":   strconv.FormatUint(uint64(params.TxIndex), 10),
			}),
		}
		if err := errors.Join(steps...); err != nil {
			return nil, err
		}
	case BurnParams:
		if params.BurnRef == nil {
			return nil, errors.InvalidInput("burn_ref", "required for legacy selectors")
		}
		if err := add("ref", "u64", params.BurnRef.String()); err != nil {
			return nil, err
		}
	default:
		return nil, errors.UnsupportedSelector(p.TxSelector(), fmt.Sprintf("submit of %T", p))
	}

	return map[string]interface{}{
		"tx": map[string]interface{}{
			"to": p.TxSelector(),
			"in": args,
		},
	}, nil
}

// legacyTypes maps version-1 argument types onto pack types. Types starting
// with "ext_" are kept as opaque decoded JSON.
var legacyTypes = map[string]pack.Type{
	"b":    pack.BytesType,
	"b20":  pack.StringType, // hex, not base64
	"b32":  pack.Bytes32Type,
	"b65":  pack.Bytes65Type,
	"str":  pack.StringType,
	"u8":   pack.U8Type,
	"u16":  pack.U16Type,
	"u32":  pack.U32Type,
	"u64":  pack.U64Type,
	"u128": pack.U128Type,
	"u256": pack.U256Type,
}

func decodeLegacyArgs(args []legacyArg) (*pack.StructValue, error) {
	out := &pack.StructValue{}
	for _, arg := range args {
		var wire interface{}
		dec := json.NewDecoder(bytes.NewReader(arg.Value))
		dec.UseNumber()
		if err := dec.Decode(&wire); err != nil {
			return nil, errors.SchemaMismatch(arg.Name, "invalid JSON value")
		}

		if strings.HasPrefix(arg.Type, "ext_") {
			out.Fields = append(out.Fields, pack.FieldValue{Name: arg.Name, Value: wire})
			continue
		}
		t, ok := legacyTypes[arg.Type]
		if !ok {
			return nil, errors.UnknownType(arg.Type)
		}
		v, err := pack.Unmarshal(t, wire)
		if err != nil {
			return nil, fmt.Errorf("arg %s: %w", arg.Name, err)
		}
		out.Fields = append(out.Fields, pack.FieldValue{Name: arg.Name, Value: v})
	}
	return out, nil
}

func parseLegacyTransaction(result json.RawMessage) (*Transaction, error) {
	var resp struct {
		Tx struct {
			Hash    string      `json:"hash"`
			To      string      `json:"to"`
			In      []legacyArg `json:"in"`
			Autogen []legacyArg `json:"autogen"`
			Out     []legacyArg `json:"out"`
		} `json:"tx"`
		TxStatus string `json:"txStatus"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("decode legacy transaction: %w", err)
	}

	in, err := decodeLegacyArgs(append(resp.Tx.In, resp.Tx.Autogen...))
	if err != nil {
		return nil, err
	}
	out, err := decodeLegacyArgs(resp.Tx.Out)
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		Selector: resp.Tx.To,
		Status:   ParseTxStatus(resp.TxStatus),
		In:       in,
		Out:      out,
	}
	if resp.Tx.Hash != "" {
		hash, err := pack.DecodeBase64(resp.Tx.Hash)
		if err != nil {
			return nil, errors.SchemaMismatch("hash", "invalid base64")
		}
		tx.Hash = hash
	}

	if amount, ok := in.Int("amount"); ok {
		tx.Amount = amount
	}
	if nhash, ok := in.Bytes("nhash"); ok {
		tx.NHash = nhash
	}
	if sighash, ok := in.Bytes("sighash"); ok {
		tx.SigHash = sighash
	}
	if revert, ok := out.Str("revert"); ok && revert != "" {
		tx.Revert = revert
		tx.Status = StatusReverted
	}

	r, okR := out.Bytes("r")
	s, okS := out.Bytes("s")
	v, okV := out.Int("v")
	if okR && okS && okV {
		sig, err := signature.FromParts(r, s, byte(v.Uint64()))
		if err != nil {
			return nil, err
		}
		tx.Signature = &sig
	}
	return tx, nil
}
