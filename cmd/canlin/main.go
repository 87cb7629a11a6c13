package main

import (
	"context"

	"github.com/canlin/canlin/cmd/canlin/cmd"
)

func main() {
	cmd.Execute(context.Background())
}
