package chain

import (
	"bytes"
	"context"
	"math/big"
	"strings"

	"github.com/degenduel/duel-settlement/entities"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// Caller is satisfied by *rpc.Client.
type Caller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

const feedIDLength = 21

const (
	getCurrentPriceSignature = "getCurrentPrice(bytes21)"
	getRandomNumberSignature = "getRandomNumber()"
)

var (
	getCurrentPriceSelector = selector(getCurrentPriceSignature)
	getRandomNumberSelector = selector(getRandomNumberSignature)
)

func selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

var (
	priceOutputs  = mustArguments("uint256", "int8", "uint64")
	randomOutputs = mustArguments("uint256", "bool", "uint64")
)

func mustArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(err)
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args
}

// Reader performs read only contract calls.
type Reader struct {
	caller   Caller
	ftso     common.Address
	contract common.Address
}

func NewReader(caller Caller, ftsoAddress, contractAddress string) *Reader {
	return &Reader{
		caller:   caller,
		ftso:     common.HexToAddress(ftsoAddress),
		contract: common.HexToAddress(contractAddress),
	}
}

func (r *Reader) GetCurrentPrice(ctx context.Context, feedID string) (entities.PriceQuote, error) {
	id, err := decodeFeedID(feedID)
	if err != nil {
		return entities.PriceQuote{}, err
	}

	data := append(append([]byte{}, getCurrentPriceSelector...), common.RightPadBytes(id, 32)...)
	out, err := r.call(ctx, r.ftso, data)
	if err != nil {
		return entities.PriceQuote{}, errors.Wrapf(err, "reading price of feed [%s]", feedID)
	}

	values, err := priceOutputs.Unpack(out)
	if err != nil {
		return entities.PriceQuote{}, errors.Wrapf(err, "decoding price of feed [%s]", feedID)
	}
	value, decimals, timestamp := values[0].(*big.Int), values[1].(int8), values[2].(uint64)
	return entities.NewPriceQuote(feedID, value, decimals, timestamp), nil
}

func (r *Reader) GetRandomNumber(ctx context.Context) (entities.RandomNumber, error) {
	out, err := r.call(ctx, r.contract, getRandomNumberSelector)
	if err != nil {
		return entities.RandomNumber{}, errors.Wrap(err, "reading random number")
	}

	values, err := randomOutputs.Unpack(out)
	if err != nil {
		return entities.RandomNumber{}, errors.Wrap(err, "decoding random number")
	}
	return entities.RandomNumber{
		Value:     values[0].(*big.Int),
		IsSecure:  values[1].(bool),
		Timestamp: values[2].(uint64),
	}, nil
}

// VerifyChainID fails when the node behind caller serves a different network than expected.
func VerifyChainID(ctx context.Context, caller Caller, expected int64) error {
	var id hexutil.Big
	if err := caller.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return errors.Wrap(err, "eth_chainId")
	}
	if got := id.ToInt(); !got.IsInt64() || got.Int64() != expected {
		return errors.Errorf("rpc node serves chain %s, expected %d", got, expected)
	}
	return nil
}

func (r *Reader) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := map[string]any{
		"to":   to,
		"data": hexutil.Bytes(data),
	}
	var out hexutil.Bytes
	if err := r.caller.CallContext(ctx, &out, "eth_call", msg, "latest"); err != nil {
		return nil, errors.Wrap(err, "eth_call")
	}
	if len(out) == 0 {
		return nil, errors.New("empty eth_call reply")
	}
	return out, nil
}

func decodeFeedID(feedID string) ([]byte, error) {
	id, err := hexutil.Decode(feedID)
	if err != nil {
		return nil, errors.Wrapf(entities.ErrInvalidFeedID, "[%s]: %v", feedID, err)
	}
	if len(id) != feedIDLength {
		return nil, errors.Wrapf(entities.ErrInvalidFeedID, "[%s]: expected %d bytes, got %d", feedID, feedIDLength, len(id))
	}
	return id, nil
}

// FeedName returns the symbol encoded in a feed id, e.g. "BTC/USD", or the id itself.
func FeedName(feedID string) string {
	id, err := decodeFeedID(feedID)
	if err != nil {
		return feedID
	}
	name := string(bytes.TrimRight(id[1:], "\x00"))
	if name == "" || strings.ContainsFunc(name, func(r rune) bool { return r < 0x20 || r > 0x7e }) {
		return feedID
	}
	return name
}
