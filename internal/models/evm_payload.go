package models

// EVMTransferPayload is the raw payload the EVM adapter stores per transaction
type EVMTransferPayload struct {
	TxHash      string        `json:"txHash"`
	BlockNumber uint64        `json:"blockNumber"`
	Transfers   []EVMTransfer `json:"transfers"`
}

// EVMTransfer is one ERC-20 Transfer log; Value is the raw integer amount
type EVMTransfer struct {
	Token    string `json:"token"`
	From     string `json:"from"`
	To       string `json:"to"`
	Value    string `json:"value"`
	LogIndex uint   `json:"logIndex"`
}
