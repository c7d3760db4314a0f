// Package langset implements the RGOG archive format's fixed 128-slot
// packed language bit-set (spec §4.7 BuildMetadata manifest entries,
// GLOSSARY "Language bit-set (RGOG)").
//
// The source spec leaves the concrete slot→code table unspecified
// ("bit assignments are fixed by the format spec"); this package defines
// that table once, here, so every writer and reader in this module agrees
// on it. The table is a fixed list of the language tags the CDN's depots
// actually carry, led by en-US, fr-FR and de-DE (it is not sorted
// alphabetically); see DESIGN.md for the
// Open Question resolution.
package langset

import "github.com/galaxy-dl/galaxy-dl/internal/bitmap"

// Table is the fixed 128-slot ISO-code table. Index is the bit position
// within the packed (languages1, languages2) pair. Unused trailing slots
// are reserved for future codes and never set by this implementation.
var Table = [128]string{
	0: "en-US", 1: "fr-FR", 2: "de-DE", 3: "es-ES", 4: "it-IT",
	5: "ru-RU", 6: "pl-PL", 7: "pt-BR", 8: "pt-PT", 9: "nl-NL",
	10: "sv-SE", 11: "nb-NO", 12: "da-DK", 13: "fi-FI", 14: "tr-TR",
	15: "cs-CZ", 16: "hu-HU", 17: "ro-RO", 18: "el-GR", 19: "uk-UA",
	20: "ja-JP", 21: "ko-KR", 22: "zh-Hans", 23: "zh-Hant", 24: "th-TH",
	25: "vi-VN", 26: "id-ID", 27: "ar-AR", 28: "he-IL", 29: "bg-BG",
	30: "hr-HR", 31: "sk-SK", 32: "sl-SI", 33: "sr-SP", 34: "et-EE",
	35: "lv-LV", 36: "lt-LT", 37: "ca-ES",
}

var indexByCode = func() map[string]int {
	m := make(map[string]int, len(Table))
	for i, code := range Table {
		if code != "" {
			m[code] = i
		}
	}
	return m
}()

// IndexOf returns the bit slot for a language code, or -1 if the code is
// not in the fixed table.
func IndexOf(code string) int {
	if i, ok := indexByCode[code]; ok {
		return i
	}
	return -1
}

// Pack encodes a depot's Languages set into the (languages1, languages2)
// u64 pair. The "*" wildcard ("all languages") is encoded as every known
// table slot set, since RGOG's fixed-width bit-set has no separate
// wildcard flag; Unpack recognises that pattern and returns ["*"].
// Codes absent from Table are silently dropped — they cannot be
// represented in the fixed-width format; callers wanting a permanent
// record of such codes should consult the archived manifest JSON itself,
// which this bit-set only indexes for quick filtering.
func Pack(codes []string) (lo, hi uint64) {
	bm := bitmap.New(128)
	for _, c := range codes {
		if c == "*" {
			return allKnownMask()
		}
		if i := IndexOf(c); i >= 0 {
			bm.Set(i)
		}
	}
	words := bm.Words()
	return words[0], words[1]
}

// Unpack decodes a (languages1, languages2) pair back into language
// codes, sorted by table order. Returns ["*"] if every known slot is set.
func Unpack(lo, hi uint64) []string {
	bm := bitmap.FromWords(128, []uint64{lo, hi})
	loA, hiA := allKnownMask()
	if lo == loA && hi == hiA {
		return []string{"*"}
	}
	var codes []string
	for i, code := range Table {
		if code != "" && bm.Get(i) {
			codes = append(codes, code)
		}
	}
	return codes
}

func allKnownMask() (lo, hi uint64) {
	bm := bitmap.New(128)
	for i, code := range Table {
		if code != "" {
			bm.Set(i)
		}
	}
	words := bm.Words()
	return words[0], words[1]
}
