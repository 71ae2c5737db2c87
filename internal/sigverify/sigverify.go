// Package sigverify recovers the signer address from an EIP-191
// personal-sign message, and builds the three scheme-specific digests the
// gateway verifies signatures over. Digest construction mirrors
// abi.encodePacked semantics exactly — tight-packed, no padding between
// fields unless the field itself is a fixed-width uint/address.
package sigverify

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/evmx402/gateway/internal/evmtypes"
)

// personalSignPrefix is EIP-191's prefix for a 32-byte digest: it is always
// this exact string, never recomputed per-message. Double-hashing (hashing
// the prefixed message again before recovery) is the classic bug this
// package must avoid — RecoverEIP191 hashes exactly once.
const personalSignPrefix = "\x19Ethereum Signed Message:\n32"

// RecoverEIP191 recovers the signer address that produced sig over digest,
// under EIP-191 personal-sign prefixing. digest must already be the
// keccak256 hash of the scheme-specific message (see DigestOTP/DigestPC/
// DigestCS below) — callers must not pass raw message bytes.
func RecoverEIP191(digest [32]byte, sig evmtypes.Signature) (evmtypes.Address, error) {
	prefixed := crypto.Keccak256(append([]byte(personalSignPrefix), digest[:]...))

	raw := sig
	// go-ethereum's Ecrecover expects v in {0, 1}; wire signatures carry
	// v in {27, 28} (or {0, 1} from some wallets) — normalize defensively.
	if raw[64] >= 27 {
		raw[64] -= 27
	}

	pubBytes, err := crypto.Ecrecover(prefixed, raw[:])
	if err != nil {
		return evmtypes.Address{}, fmt.Errorf("sigverify: ecrecover: %w", err)
	}
	pub, err := crypto.UnmarshalPubkey(pubBytes)
	if err != nil {
		return evmtypes.Address{}, fmt.Errorf("sigverify: unmarshal pubkey: %w", err)
	}
	return evmtypes.Address{Address: crypto.PubkeyToAddress(*pub)}, nil
}

// DigestOTP reconstructs keccak256(abi.encodePacked(tx_hash)) — the message
// an OTP client signs over a completed transfer's hash.
func DigestOTP(txHash evmtypes.Hash) [32]byte {
	return crypto.Keccak256Hash(txHash.Hash.Bytes())
}

// DigestPC reconstructs keccak256(abi.encodePacked(channel_id, balance,
// nonce, body)) — the message a payment-channel client signs over its
// claimed channel state. channelID/balance/nonce are each packed as a full
// 32-byte big-endian word (uint256 packing), body is packed as-is with no
// length prefix or padding (bytes packing).
func DigestPC(channelID, balance, nonce evmtypes.U256, body []byte) [32]byte {
	packed := make([]byte, 0, 96+len(body))
	packed = append(packed, padU256(channelID)...)
	packed = append(packed, padU256(balance)...)
	packed = append(packed, padU256(nonce)...)
	packed = append(packed, body...)
	return crypto.Keccak256Hash(packed)
}

// DigestCS reconstructs keccak256(abi.encodePacked(sender)) — the message a
// stream client signs to prove control of the paying address.
func DigestCS(sender evmtypes.Address) [32]byte {
	return crypto.Keccak256Hash(sender.Address.Bytes())
}

// padU256 renders v as a 32-byte big-endian word, the abi.encodePacked
// layout for a uint256 argument.
func padU256(v evmtypes.U256) []byte {
	b := v.Int.Bytes32()
	out := make([]byte, 32)
	copy(out, b[:])
	return out
}

// EventTopic0 returns the keccak256 hash of an event's canonical Solidity
// signature string (e.g. "Transfer(address,address,uint256)") — the value
// that always sits in topics[0] of a matching log, the same computation
// go-ethereum's abi.Event.ID performs internally.
func EventTopic0(signature string) [32]byte {
	return crypto.Keccak256Hash([]byte(signature))
}

// ABIArguments builds an abi.Arguments value for the given type strings,
// the idiomatic go-ethereum way to pack/unpack arbitrary contract calls
// without per-contract codegen (used by chainclient.CallView/SendTx).
func ABIArguments(types ...string) (abi.Arguments, error) {
	args := make(abi.Arguments, 0, len(types))
	for _, t := range types {
		abiType, err := abi.NewType(t, "", nil)
		if err != nil {
			return nil, fmt.Errorf("sigverify: abi type %q: %w", t, err)
		}
		args = append(args, abi.Argument{Type: abiType})
	}
	return args, nil
}
