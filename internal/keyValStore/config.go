package keyValStore

import (
	"fmt"
	"os"
)

func (c StoreConfig) checkConfig() error {
	if len(c.Paths) == 0 {
		return fmt.Errorf("at least one path must be provided")
	}

	if err := os.MkdirAll(c.Paths[0], 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", c.Paths[0], err)
	}

	if c.MinimumFreeSpace > 0 {
		free, err := freeSpaceGB(c.Paths[0])
		if err != nil {
			return fmt.Errorf("check free space for %s: %w", c.Paths[0], err)
		}
		if free < float64(c.MinimumFreeSpace) {
			return fmt.Errorf(
				"not enough free space at %s: %.2f GB available, %d GB required",
				c.Paths[0], free, c.MinimumFreeSpace,
			)
		}
	}

	return nil
}
