package main

import (
	"os"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
