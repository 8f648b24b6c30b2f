package collect

import "strings"

// Reddit "fullname" type prefixes. t1 = comment, t3 = link/post; the rest
// appear rarely in search output but cost nothing to recognize.
var idTypePrefixes = []string{"t1_", "t2_", "t3_", "t4_", "t5_", "t6_"}

// NormalizeID strips a leading type prefix from a raw identifier so comment
// and post IDs compare uniformly. Unknown or absent prefixes return the
// input unchanged.
func NormalizeID(raw string) string {
	for _, p := range idTypePrefixes {
		if strings.HasPrefix(raw, p) {
			return raw[len(p):]
		}
	}
	return raw
}
