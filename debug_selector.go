package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
)

// PharmaNFT signatures, for matching raw logs and revert data by hand
var (
	eventSigs = []string{
		"BatchMinted(uint256,address,string)",
		"OwnershipTransferred(uint256,address,address,uint8)",
		"BatchVerified(uint256,address,bool)",
		"ChildBatchLinked(uint256,uint256)",
	}
	funcSigs = []string{
		"getBatchDetails(uint256)",
		"getTransferHistory(uint256)",
		"getRole(address)",
		"isCounterfeit(uint256)",
		"ownerOf(uint256)",
		"getParentBatch(uint256)",
	}
	errorSigs = []string{
		"ERC721NonexistentToken(uint256)",
		"Error(string)",
		"Panic(uint256)",
	}
)

func printSelectors(w io.Writer) {
	for _, sig := range eventSigs {
		fmt.Fprintf(w, "event %s: 0x%s\n", sig, hex.EncodeToString(crypto.Keccak256([]byte(sig))))
	}
	for _, sig := range append(append([]string{}, funcSigs...), errorSigs...) {
		hash := crypto.Keccak256([]byte(sig))
		fmt.Fprintf(w, "%s: 0x%s\n", sig, hex.EncodeToString(hash[:4]))
	}
}

func main() {
	printSelectors(os.Stdout)
}
