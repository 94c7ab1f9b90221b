package utils

import "net/http"

// imageExts maps sniffed content types to the extension clipboard image
// files are saved with.
var imageExts = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

// DetectImageExt sniffs data and returns the matching file extension.
// Unknown content falls back to .png, the dominant clipboard format.
func DetectImageExt(data []byte) string {
	if ext, ok := imageExts[http.DetectContentType(data)]; ok {
		return ext
	}
	return ".png"
}
