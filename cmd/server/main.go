package main

import (
	"go.uber.org/fx"

	"github.com/spike2204/intelligent-qa/internal/server"
)

func main() {
	fx.New(server.Module).Run()
}
