package main

import (
	"fmt"
	"strconv"
)

func hashHex(h uint32) string { return fmt.Sprintf("%08x", h) }

func itoa(n int) string { return strconv.Itoa(n) }

func itoa64(n uint64) string { return strconv.FormatUint(n, 10) }

func deviceKey(nodeUUID string, deviceID uint16) string {
	return fmt.Sprintf("%s/%d", shortUUID(nodeUUID), deviceID)
}

func shortUUID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
