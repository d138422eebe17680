package main

import (
	"github.com/gogf/gf/v2/os/gctx"

	"pgw/app/pgw/internal/cmd"
)

var ctx = gctx.New()

func main() {
	cmd.Main.Run(ctx)
}
