package main

import (
	"fmt"
	"os"

	"tradedesk/crypto"
)

func main() {
	key, err := crypto.GenerateDataKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate data key: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Add to .env:")
	fmt.Printf("%s=%s\n", crypto.EnvDataEncryptionKey, key)
}
