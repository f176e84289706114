package dataset

// Column aliasing is declarative: adding a new upstream schema variant is a
// table edit, not a code change. All raw keys are lowercased before lookup.

// timestampAliases lists accepted timestamp field names in priority order.
// An explicit date field wins over the row creation timestamp, which wins
// over the reading-specific field.
var timestampAliases = []string{"date", "created_at", "reading_date"}

// pollutantAliases maps each canonical pollutant column to the raw names it
// may appear under, in priority order.
var pollutantAliases = map[string][]string{
	"pm2_5":   {"pm2_5", "pm2.5", "pm25"},
	"pm10":    {"pm10", "pm_10"},
	"no":      {"no"},
	"no2":     {"no2", "no_2"},
	"nox":     {"nox", "no_x"},
	"nh3":     {"nh3"},
	"co":      {"co"},
	"so2":     {"so2", "so_2"},
	"o3":      {"o3"},
	"benzene": {"benzene"},
	"toluene": {"toluene"},
	"xylene":  {"xylene"},
}

// aqiAliases lists accepted names for the aggregate index column.
var aqiAliases = []string{"aqi", "aqi_value"}

// cityAliases lists accepted names for the city column.
var cityAliases = []string{"city", "city_name", "location"}

// resolve returns the first aliased value present in the lowercased record.
func resolve(rec map[string]any, aliases []string) (any, bool) {
	for _, name := range aliases {
		if v, ok := rec[name]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}
