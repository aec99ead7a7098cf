package assistant

import (
	"fmt"
	"strconv"
	"strings"
)

// Locator is a position inside a book. Fixed-layout documents use
// "page/item/offset"; reflowable documents use "index/path/offset" where path
// is the content document path inside the package and may contain slashes.
type Locator struct {
	Index  int
	Path   string
	Offset int
	Paged  bool
}

// ParseLocator accepts either locator shape.
func ParseLocator(raw string) (Locator, error) {
	if page, item, offset, ok := parsePageLocator(raw); ok {
		return Locator{Index: page, Path: strconv.Itoa(item), Offset: offset, Paged: true}, nil
	}

	first := strings.Index(raw, "/")
	last := strings.LastIndex(raw, "/")
	if first < 0 || first == last {
		return Locator{}, fmt.Errorf("malformed locator %q", raw)
	}
	index, err := strconv.Atoi(raw[:first])
	if err != nil {
		return Locator{}, fmt.Errorf("malformed locator index %q: %w", raw, err)
	}
	offset, err := strconv.Atoi(raw[last+1:])
	if err != nil {
		return Locator{}, fmt.Errorf("malformed locator offset %q: %w", raw, err)
	}
	return Locator{Index: index, Path: raw[first+1 : last], Offset: offset}, nil
}

func parsePageLocator(raw string) (page, item, offset int, ok bool) {
	parts := strings.Split(raw, "/")
	if len(parts) != 3 {
		return 0, 0, 0, false
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, 0, 0, false
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], true
}

// Label renders a locator for display. It never fails: anything that is not a
// page locator is shown compactly with its separators replaced.
func Label(raw string) string {
	if page, _, _, ok := parsePageLocator(raw); ok {
		return fmt.Sprintf("Page %d", page)
	}
	return strings.ReplaceAll(raw, "/", "·")
}

// RangeLabel renders a start/end pair, collapsing equal labels.
func RangeLabel(start, end string) string {
	from, to := Label(start), Label(end)
	if end == "" || from == to {
		return from
	}
	return from + " – " + to
}
