//go:build !unix

package quota

import "errors"

func availableBytes(path string) (uint64, error) {
	return 0, errors.New("disk probe is not supported on this platform")
}
