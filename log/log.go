package log

import (
	"os"

	hclog "github.com/hashicorp/go-hclog"
)

var L hclog.Logger

func init() {
	L = hclog.New(&hclog.LoggerOptions{
		Name: "klamath",
	})
	L.SetLevel(hclog.Info)

	if str := os.Getenv("KLAMATH_TRACE"); str != "" {
		L.SetLevel(hclog.Trace)
	}
}
