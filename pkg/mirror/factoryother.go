//go:build !windows

package mirror

import (
	"log"
)

func PlatformSpecificMirrorer(opts Options, logger *log.Logger) Mirrorer {
	return RsyncMirrorer(opts, logger)
}
