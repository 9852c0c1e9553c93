package common

import (
	"strings"
)

// Info returns the naming components of a tile usable in a path pattern.
// Keys: TILE, KEY, DATE (YEAR/MONTH/DAY)
func (t TileRef) Info() map[string]string {
	date := t.Date.Format("20060102")
	return map[string]string{
		"TILE":  t.SourceID,
		"KEY":   t.Key(),
		"DATE":  date,
		"YEAR":  date[0:4],
		"MONTH": date[4:6],
		"DAY":   date[6:8],
	}
}

// FormatBrackets replaces in <str> all {keys} of <info> by the corresponding value
func FormatBrackets(str string, infos ...map[string]string) string {
	for _, info := range infos {
		for k, v := range info {
			str = strings.ReplaceAll(str, "{"+k+"}", v)
		}
	}
	return str
}
