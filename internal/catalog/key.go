package catalog

import (
	"fmt"
	"strings"
	"unicode"
)

// FolderName builds the object-store folder key for a dataset:
// "{productId}-{slug}", where the slug is the lowercased title with
// everything but letters, digits, spaces and hyphens stripped, and runs
// of whitespace collapsed to single hyphens. This key is the join point
// between the catalog snapshot and actual object-store contents.
func FolderName(productID int64, title string) string {
	var b strings.Builder
	for _, r := range title {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	slug := strings.Join(strings.Fields(b.String()), "-")
	return fmt.Sprintf("%d-%s", productID, slug)
}

// ProductIDFromFolder extracts the product ID from a folder key: the
// substring before the first hyphen, which must be all digits. Keys that
// do not parse report ok=false and are silently ignored by callers
// scanning the store for ground truth.
func ProductIDFromFolder(folder string) (int64, bool) {
	i := strings.IndexByte(folder, '-')
	if i <= 0 {
		return 0, false
	}
	var id int64
	for _, c := range []byte(folder[:i]) {
		if c < '0' || c > '9' {
			return 0, false
		}
		id = id*10 + int64(c-'0')
	}
	return id, true
}
