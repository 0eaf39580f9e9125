package registry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ckbot/internal/clock"
)

// SlotKey identifies one fixed recurring slot.
type SlotKey struct {
	Day  time.Weekday
	Hour string // "HH:MM"
}

// String is the canonical form, e.g. "saturday-15:00". It is also the
// persisted key.
func (k SlotKey) String() string {
	return strings.ToLower(k.Day.String()) + "-" + k.Hour
}

// Label is the short human form, e.g. "Sat 15:00".
func (k SlotKey) Label() string {
	return k.Day.String()[:3] + " " + k.Hour
}

// ParseSlotKey parses the canonical String form.
func ParseSlotKey(s string) (SlotKey, error) {
	day, hour, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return SlotKey{}, fmt.Errorf("invalid slot key %q", s)
	}
	d, err := clock.ParseWeekday(day)
	if err != nil {
		return SlotKey{}, err
	}
	h, m, err := clock.ParseHHMM(hour)
	if err != nil {
		return SlotKey{}, err
	}
	return SlotKey{Day: d, Hour: formatHHMM(h, m)}, nil
}

// Catalog is the fixed, ordered set of valid slots. It is built once at
// startup and never changes.
type Catalog struct {
	keys []SlotKey
	set  map[SlotKey]struct{}
}

var ErrEmptyCatalog = errors.New("registry: at least one day and one hour are required")

// NewCatalog builds days x hours in the given order.
func NewCatalog(days []time.Weekday, hours []string) (Catalog, error) {
	if len(days) == 0 || len(hours) == 0 {
		return Catalog{}, ErrEmptyCatalog
	}
	c := Catalog{set: map[SlotKey]struct{}{}}
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday {
			return Catalog{}, fmt.Errorf("registry: invalid weekday %d", d)
		}
		for _, raw := range hours {
			h, m, err := clock.ParseHHMM(raw)
			if err != nil {
				return Catalog{}, fmt.Errorf("registry: %w", err)
			}
			k := SlotKey{Day: d, Hour: formatHHMM(h, m)}
			if _, dup := c.set[k]; dup {
				return Catalog{}, fmt.Errorf("registry: duplicate slot %s", k)
			}
			c.set[k] = struct{}{}
			c.keys = append(c.keys, k)
		}
	}
	return c, nil
}

// DefaultCatalog is Saturday and Sunday at 15:00 and 20:00.
func DefaultCatalog() Catalog {
	c, err := NewCatalog([]time.Weekday{time.Saturday, time.Sunday}, []string{"15:00", "20:00"})
	if err != nil {
		panic(err)
	}
	return c
}

func (c Catalog) Keys() []SlotKey { return append([]SlotKey(nil), c.keys...) }

func (c Catalog) Len() int { return len(c.keys) }

func (c Catalog) Contains(k SlotKey) bool {
	_, ok := c.set[k]
	return ok
}

// Parse resolves user input such as ("sat", "15"), ("Saturday", "15:00") or
// ("sun", "8pm") to a slot in the catalog. A bare hour below 12 resolves to
// the afternoon slot when only that one exists ("3" -> 15:00). An explicit
// am or pm suffix is taken literally.
func (c Catalog) Parse(day, hour string) (SlotKey, bool) {
	d, err := clock.ParseWeekday(day)
	if err != nil {
		return SlotKey{}, false
	}
	h, m, mer, ok := parseHourInput(hour)
	if !ok {
		return SlotKey{}, false
	}
	switch mer {
	case meridiemAM:
		if h == 12 {
			h = 0
		}
	case meridiemPM:
		if h < 12 {
			h += 12
		}
	}
	k := SlotKey{Day: d, Hour: formatHHMM(h, m)}
	if c.Contains(k) {
		return k, true
	}
	if mer == meridiemNone && h < 12 {
		k.Hour = formatHHMM(h+12, m)
		if c.Contains(k) {
			return k, true
		}
	}
	return SlotKey{}, false
}

type meridiem int

const (
	meridiemNone meridiem = iota
	meridiemAM
	meridiemPM
)

func parseHourInput(s string) (hour, minute int, mer meridiem, ok bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasSuffix(s, "pm"):
		mer = meridiemPM
		s = strings.TrimSpace(strings.TrimSuffix(s, "pm"))
	case strings.HasSuffix(s, "am"):
		mer = meridiemAM
		s = strings.TrimSpace(strings.TrimSuffix(s, "am"))
	case strings.HasSuffix(s, "h"):
		s = strings.TrimSuffix(s, "h")
	}
	if strings.Contains(s, ":") {
		h, m, err := clock.ParseHHMM(s)
		if err != nil || (mer != meridiemNone && (h < 1 || h > 12)) {
			return 0, 0, meridiemNone, false
		}
		return h, m, mer, true
	}
	h, err := strconv.Atoi(s)
	if err != nil || h < 0 || h > 23 {
		return 0, 0, meridiemNone, false
	}
	if mer != meridiemNone && (h < 1 || h > 12) {
		return 0, 0, meridiemNone, false
	}
	return h, 0, mer, true
}

func formatHHMM(h, m int) string {
	return fmt.Sprintf("%02d:%02d", h, m)
}
