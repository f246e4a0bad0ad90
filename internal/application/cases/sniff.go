package cases

import "net/http"

// sniffLen is how many leading bytes http.DetectContentType looks at
const sniffLen = 512

var extByType = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

// SniffExt maps the leading bytes of an upload to a blob extension.
func SniffExt(head []byte) (string, bool) {
	ext, ok := extByType[http.DetectContentType(head)]
	return ext, ok
}
