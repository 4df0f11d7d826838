package log

import (
	"os"

	"github.com/davecgh/go-spew/spew"
	hclog "github.com/hashicorp/go-hclog"
)

func EnableDebug() {
	if str := os.Getenv("KLAMATH_TRACE"); str != "" {
		L.SetLevel(hclog.Trace)
	}
}

// Dump renders v for trace output. Cheap when tracing is off.
func Dump(v interface{}) string {
	if !L.IsTrace() {
		return ""
	}

	return spew.Sdump(v)
}
