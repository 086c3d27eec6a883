package epub

import (
	"fmt"
	"strings"

	"github.com/librettohq/libretto/internal/blob"
)

// exportStyleLink is injected into every chapter head so the overlay
// active class resolves inside chapter documents.
const exportStyleLink = `<link rel="stylesheet" type="text/css" href="../styles/style.css"/>`

// prepareChapterDocument rewrites a stored chapter document for the
// container. The normalizer rebased asset references onto the server's
// storage URLs; here they become container-relative paths. Chapter
// documents live under text/, assets under assets/.
func prepareChapterDocument(doc []byte, bookID string) []byte {
	s := string(doc)

	// Asset URLs appear only in double-quoted attribute values, the
	// form the normalizer renders.
	prefix := fmt.Sprintf(`"%s/%s/assets/`, blob.AssetURLPrefix, bookID)
	s = strings.ReplaceAll(s, prefix, `"../assets/`)

	if i := strings.Index(s, "</head>"); i >= 0 {
		s = s[:i] + exportStyleLink + s[i:]
	}

	return []byte(s)
}
