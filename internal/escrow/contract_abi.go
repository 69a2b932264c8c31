package escrow

// LendexABI covers the escrow contract methods the service calls.
const LendexABI = `[
  {"type":"function","name":"borrowToken","stateMutability":"nonpayable",
   "inputs":[{"name":"collection","type":"address"},{"name":"tokenId","type":"uint256"},{"name":"lender","type":"address"}],
   "outputs":[]},
  {"type":"function","name":"payTokenDebt","stateMutability":"nonpayable",
   "inputs":[{"name":"collection","type":"address"},{"name":"tokenId","type":"uint256"}],
   "outputs":[]},
  {"type":"function","name":"claimToken","stateMutability":"nonpayable",
   "inputs":[{"name":"collection","type":"address"},{"name":"tokenId","type":"uint256"}],
   "outputs":[]},
  {"type":"function","name":"getToken","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"},{"name":"collection","type":"address"},{"name":"tokenId","type":"uint256"}],
   "outputs":[
     {"name":"info","type":"tuple","components":[
       {"name":"lender","type":"address"},
       {"name":"deadline","type":"uint256"},
       {"name":"amount","type":"int256"},
       {"name":"decimals","type":"uint256"},
       {"name":"currencyCode","type":"string"}]},
     {"name":"status","type":"uint8"}]},
  {"type":"function","name":"getTokenOwner","stateMutability":"view",
   "inputs":[{"name":"collection","type":"address"},{"name":"tokenId","type":"uint256"}],
   "outputs":[{"name":"","type":"address"}]}
]`

// ERC721TransferABI is the data-carrying transfer that fires the escrow's
// custody hook.
const ERC721TransferABI = `[
  {"type":"function","name":"safeTransferFrom","stateMutability":"nonpayable",
   "inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"},{"name":"data","type":"bytes"}],
   "outputs":[]}
]`
