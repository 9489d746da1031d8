package rzd

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// minPartialLen is the shortest input matched as a fragment of a known name.
const minPartialLen = 3

// stationCodes maps lower-case city names to express codes of the main station.
var stationCodes = map[string]string{
	"москва":            "2000000",
	"санкт-петербург":   "2004000",
	"екатеринбург":      "2044000",
	"новосибирск":       "2040000",
	"нижний новгород":   "2060000",
	"казань":            "2060001",
	"самара":            "2024000",
	"омск":              "2040700",
	"ростов-на-дону":    "2064000",
	"красноярск":        "2030000",
	"волгоград":         "2020000",
	"воронеж":           "2014000",
	"саратов":           "2020001",
	"краснодар":         "2064001",
	"тольятти":          "2024001",
	"барнаул":           "2040001",
	"ижевск":            "2060002",
	"ульяновск":         "2024002",
	"владивосток":       "2034000",
	"хабаровск":         "2034001",
	"иркутск":           "2030001",
	"челябинск":         "2044001",
	"оренбург":          "2044002",
	"рязань":            "2000001",
	"пенза":             "2020002",
	"липецк":            "2014001",
	"тула":              "2000002",
	"киров":             "2060003",
	"чебоксары":         "2060004",
	"калининград":       "2000003",
	"брянск":            "2000004",
	"курск":             "2014002",
	"белгород":          "2014003",
	"орёл":              "2000005",
	"смоленск":          "2000006",
	"мурманск":          "2000007",
	"архангельск":       "2000008",
	"сыктывкар":         "2000009",
	"йошкар-ола":        "2060005",
	"саранск":           "2020003",
	"астрахань":         "2020004",
	"элиста":            "2020005",
	"грозный":           "2064002",
	"махачкала":         "2064003",
	"владикавказ":       "2064004",
	"нальчик":           "2064005",
	"черкесск":          "2064006",
	"ставрополь":        "2064007",
	"сочи":              "2064008",
	"анапа":             "2064009",
	"новороссийск":      "2064011",
	"туапсе":            "2064012",
	"адлер":             "2064013",
	"майкоп":            "2064014",
	"армавир":           "2064015",
	"кисловодск":        "2064020",
	"пятигорск":         "2064021",
	"минеральные воды":  "2064022",
	"дербент":           "2064029",
}

// stationNames is stationCodes' keys, longest first, so that substring
// matching prefers the most specific name.
var stationNames = func() []string {
	names := make([]string, 0, len(stationCodes))
	for name := range stationCodes {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	return names
}()

// NormalizeStation lower-cases and trims a user supplied station name.
// "ё" and "е" are treated as the same letter.
func NormalizeStation(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.Join(strings.Fields(name), " ")
	return strings.ReplaceAll(name, "ё", "е")
}

// StationCode resolves a station name: exact match first, then the longest
// known name that contains, or is contained in, the input.
func StationCode(name string) (string, bool) {
	n := NormalizeStation(name)
	if n == "" {
		return "", false
	}
	for _, known := range stationNames {
		if NormalizeStation(known) == n {
			return stationCodes[known], true
		}
	}
	for _, known := range stationNames {
		k := NormalizeStation(known)
		if strings.Contains(n, k) || (utf8.RuneCountInString(n) >= minPartialLen && strings.Contains(k, n)) {
			return stationCodes[known], true
		}
	}
	return "", false
}

// KnownStation reports whether name resolves to a station code.
func KnownStation(name string) bool {
	_, ok := StationCode(name)
	return ok
}
