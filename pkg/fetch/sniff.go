package fetch

// sniffLimit is how many leading bytes participate in format detection.
const sniffLimit = 1024

// sniffContentType identifies a supported raster format from leading magic
// bytes. The upstream Content-Type header is deliberately ignored; what the
// bytes say is authoritative. Returns ok=false when no signature matches.
func sniffContentType(b []byte) (string, bool) {
	switch {
	case len(b) >= 4 && b[0] == 0x89 && b[1] == 'P' && b[2] == 'N' && b[3] == 'G':
		return "image/png", true
	case len(b) >= 4 && b[0] == 'G' && b[1] == 'I' && b[2] == 'F' && b[3] == '8':
		return "image/gif", true
	case len(b) >= 2 && b[0] == 'B' && b[1] == 'M':
		return "image/bmp", true
	case len(b) >= 2 && b[0] == 0xFF && b[1] == 0xD8:
		return "image/jpeg", true
	case len(b) >= 4 && b[1] == 'P' && b[2] == 'N' && b[3] == 'G':
		// Legacy variant with a stray leading byte before the PNG signature.
		return "image/png", true
	default:
		return "", false
	}
}
