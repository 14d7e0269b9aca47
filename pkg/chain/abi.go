package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// OrderBookABI is the subset of the OrderBook contract the engine talks to.
const OrderBookABI = `[
  {"type":"function","name":"placeOrder","stateMutability":"nonpayable",
   "inputs":[{"name":"market","type":"address"},{"name":"outcomeIndex","type":"uint8"},{"name":"price","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"isBid","type":"bool"}],
   "outputs":[{"name":"orderId","type":"uint256"}]},
  {"type":"function","name":"fillOrders","stateMutability":"nonpayable",
   "inputs":[{"name":"orderIds","type":"uint256[]"},{"name":"amounts","type":"uint256[]"}],
   "outputs":[]},
  {"type":"function","name":"cancelAllOrders","stateMutability":"nonpayable",
   "inputs":[{"name":"market","type":"address"}],
   "outputs":[]},
  {"type":"function","name":"orders","stateMutability":"view",
   "inputs":[{"name":"","type":"uint256"}],
   "outputs":[{"name":"id","type":"uint256"},{"name":"maker","type":"address"},{"name":"market","type":"address"},{"name":"outcomeIndex","type":"uint8"},{"name":"price","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"filled","type":"uint256"},{"name":"isBid","type":"bool"},{"name":"active","type":"bool"}]},
  {"type":"function","name":"getMarketOutcomeOrderIds","stateMutability":"view",
   "inputs":[{"name":"market","type":"address"},{"name":"outcomeIndex","type":"uint8"}],
   "outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"event","name":"OrderPlaced","anonymous":false,
   "inputs":[{"name":"orderId","type":"uint256","indexed":true},{"name":"market","type":"address","indexed":true},{"name":"maker","type":"address","indexed":true},{"name":"outcomeIndex","type":"uint8","indexed":false},{"name":"price","type":"uint256","indexed":false},{"name":"amount","type":"uint256","indexed":false},{"name":"isBid","type":"bool","indexed":false}]},
  {"type":"event","name":"OrderFilled","anonymous":false,
   "inputs":[{"name":"orderId","type":"uint256","indexed":true},{"name":"taker","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"cost","type":"uint256","indexed":false}]},
  {"type":"event","name":"FeeCollected","anonymous":false,
   "inputs":[{"name":"market","type":"address","indexed":true},{"name":"platformFee","type":"uint256","indexed":false},{"name":"creatorFee","type":"uint256","indexed":false},{"name":"dividendFee","type":"uint256","indexed":false}]},
  {"type":"event","name":"MarketResolved","anonymous":false,
   "inputs":[{"name":"market","type":"address","indexed":true},{"name":"outcome","type":"uint8","indexed":false}]}
]`

var orderBook = mustParseABI(OrderBookABI)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}
