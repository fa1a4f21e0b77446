package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestTransferEventIDMatchesABI(t *testing.T) {
	parsed, err := ERC20ABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	if parsed.Events["Transfer"].ID != TransferEventID {
		t.Fatalf("event id mismatch: %s", parsed.Events["Transfer"].ID.Hex())
	}
	if crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")) != TransferEventID {
		t.Fatalf("unexpected transfer topic")
	}
}

func TestDecodeTransfer(t *testing.T) {
	token := common.HexToAddress("0x55d398326f99059fF775485246999027B3197955")
	from := common.HexToAddress("0x2222222222222222222222222222222222222222")
	to := common.HexToAddress("0x3333333333333333333333333333333333333333")
	value, _ := new(big.Int).SetString("100000000000000000000", 10)

	log, err := EncodeTransferLog(token, from, to, value)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	ev, ok := DecodeTransfer(log)
	if !ok {
		t.Fatalf("expected transfer to decode")
	}
	if ev.Token != token || ev.From != from || ev.To != to || ev.Value.Cmp(value) != 0 {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestDecodeTransferRejectsOtherLogs(t *testing.T) {
	token := common.HexToAddress("0x55d398326f99059fF775485246999027B3197955")
	from := common.HexToAddress("0x2222222222222222222222222222222222222222")
	to := common.HexToAddress("0x3333333333333333333333333333333333333333")

	good, err := EncodeTransferLog(token, from, to, big.NewInt(1))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	cases := map[string]*types.Log{
		"nil": nil,
		"other signature": {
			Address: token,
			Topics:  []common.Hash{crypto.Keccak256Hash([]byte("Approval(address,address,uint256)")), good.Topics[1], good.Topics[2]},
			Data:    good.Data,
		},
		// ERC-721 Transfer shares topic0 but indexes the token id
		"four topics": {
			Address: token,
			Topics:  append(append([]common.Hash{}, good.Topics...), common.BigToHash(big.NewInt(7))),
		},
		"short data": {
			Address: token,
			Topics:  good.Topics,
			Data:    []byte{0x01, 0x02},
		},
	}

	for name, log := range cases {
		if _, ok := DecodeTransfer(log); ok {
			t.Fatalf("%s: expected no match", name)
		}
	}
}
