package ggep

import "strconv"

var returnPathKeys = []string{
	KEY_RETURN_PATH_ME,
	KEY_RETURN_PATH_SOURCE,
	KEY_RETURN_PATH_HOPS,
	KEY_RETURN_PATH_TTL,
}

// ReturnPathSuffix returns the lowest numeric suffix not used by any of the
// return-path keys, so a new RPI/RPS/RPH/RPT annotation can be added next to
// the ones already present.
func (g *GGEP) ReturnPathSuffix() int {
	for i := 0; ; i++ {
		s := strconv.Itoa(i)
		free := true
		for _, k := range returnPathKeys {
			if g.Has(k + s) {
				free = false
				break
			}
		}
		if free {
			return i
		}
	}
}
