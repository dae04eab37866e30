// Package locale lists the upstream locales polled when region.code is "all".
package locale

import "slices"

// all is the poll order for the all-locales driver. The order is fixed so that
// per-locale notifications arrive in the same sequence on every cycle.
var all = []string{
	"en-GB", "en-US", "da-DK", "de-DE", "nl-NL", "no-NO", "fi-FI", "sv-SE",
	"fr-FR", "it-IT", "es-ES", "es-419", "pt-BR", "hr-HR", "hu-HU", "lt-LT",
	"pl-PL", "ro-RO", "cs-CZ", "tr-TR", "el-GR", "bg-BG", "ru-RU", "uk-UA",
	"vi-VN", "hi-IN", "th-TH", "zh-CN", "zh-TW", "ja-JP", "ko-KR",
}

// AllCode selects every locale in All.
const AllCode = "all"

// All returns a copy of the full locale list in poll order.
func All() []string {
	return slices.Clone(all)
}

// Known reports whether code is one of the polled locales.
func Known(code string) bool {
	return slices.Contains(all, code)
}

// Resolve expands a configured region code into the regions a tick visits.
func Resolve(code string) []string {
	if code == AllCode {
		return All()
	}
	return []string{code}
}
