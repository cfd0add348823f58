package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ParseDeviceList parses a device selection such as "5,7-9,12" or "all" into
// sorted, de-duplicated, zero-padded IDs ("05", "07", ...). IDs outside
// [lo, hi] are dropped. Malformed parts are reported with ErrInvalidDeviceList.
func ParseDeviceList(s string, lo, hi int) ([]string, error) {
	s = strings.TrimSpace(s)
	seen := make(map[int]bool)

	if strings.EqualFold(s, "all") {
		for n := lo; n <= hi; n++ {
			seen[n] = true
		}
	} else {
		for _, part := range strings.Split(s, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			first, last, isRange := strings.Cut(part, "-")
			start, err := strconv.Atoi(strings.TrimSpace(first))
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrInvalidDeviceList, part)
			}
			end := start
			if isRange {
				if end, err = strconv.Atoi(strings.TrimSpace(last)); err != nil {
					return nil, fmt.Errorf("%w: %q", ErrInvalidDeviceList, part)
				}
			}
			for n := start; n <= end; n++ {
				seen[n] = true
			}
		}
	}

	ids := make([]int, 0, len(seen))
	for n := range seen {
		if n >= lo && n <= hi {
			ids = append(ids, n)
		}
	}
	slices.Sort(ids)

	out := make([]string, len(ids))
	for i, n := range ids {
		out[i] = FormatDevice(n)
	}
	return out, nil
}

// FormatDevice zero-pads a device number to two digits.
func FormatDevice(n int) string {
	return fmt.Sprintf("%02d", n)
}
