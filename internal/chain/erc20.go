package chain

import (
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const erc20ABIJSON = `[
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"name": "account", "type": "address"}], "name": "balanceOf", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"name": "to", "type": "address"}, {"name": "value", "type": "uint256"}], "name": "transfer", "outputs": [{"type": "bool"}], "stateMutability": "nonpayable", "type": "function"},
  {"anonymous": false, "inputs": [
    {"indexed": true, "name": "from", "type": "address"},
    {"indexed": true, "name": "to", "type": "address"},
    {"indexed": false, "name": "value", "type": "uint256"}
  ], "name": "Transfer", "type": "event"}
]`

var (
	erc20ABI     abi.ABI
	erc20ABIOnce sync.Once
	erc20ABIErr  error
)

// ERC20ABI returns the parsed minimal ERC-20 ABI.
func ERC20ABI() (abi.ABI, error) {
	erc20ABIOnce.Do(func() {
		erc20ABI, erc20ABIErr = abi.JSON(strings.NewReader(erc20ABIJSON))
	})
	return erc20ABI, erc20ABIErr
}

// TransferEventID is topic0 of Transfer(address,address,uint256).
var TransferEventID = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// TransferEvent is a decoded ERC-20 Transfer log.
type TransferEvent struct {
	Token common.Address
	From  common.Address
	To    common.Address
	Value *big.Int
}

// DecodeTransfer decodes an ERC-20 Transfer log. Logs with another signature,
// a non-standard topic layout or malformed data report ok=false.
func DecodeTransfer(log *types.Log) (TransferEvent, bool) {
	if log == nil || len(log.Topics) != 3 || log.Topics[0] != TransferEventID {
		return TransferEvent{}, false
	}
	parsed, err := ERC20ABI()
	if err != nil {
		return TransferEvent{}, false
	}
	values, err := parsed.Events["Transfer"].Inputs.NonIndexed().Unpack(log.Data)
	if err != nil || len(values) != 1 {
		return TransferEvent{}, false
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return TransferEvent{}, false
	}
	return TransferEvent{
		Token: log.Address,
		From:  common.BytesToAddress(log.Topics[1].Bytes()),
		To:    common.BytesToAddress(log.Topics[2].Bytes()),
		Value: value,
	}, true
}

// EncodeTransferLog builds the log an ERC-20 token emits for a transfer.
func EncodeTransferLog(token, from, to common.Address, value *big.Int) (*types.Log, error) {
	parsed, err := ERC20ABI()
	if err != nil {
		return nil, err
	}
	data, err := parsed.Events["Transfer"].Inputs.NonIndexed().Pack(value)
	if err != nil {
		return nil, err
	}
	return &types.Log{
		Address: token,
		Topics: []common.Hash{
			TransferEventID,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: data,
	}, nil
}
