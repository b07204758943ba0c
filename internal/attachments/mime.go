package attachments

import (
	"path/filepath"
	"strings"
)

const DefaultMimeType = "application/octet-stream"

var mimeTypes = map[string]string{
	".aac":  "audio/aac",
	".avi":  "video/x-msvideo",
	".bmp":  "image/bmp",
	".csv":  "text/csv",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".eml":  "message/rfc822",
	".gif":  "image/gif",
	".gz":   "application/gzip",
	".htm":  "text/html",
	".html": "text/html",
	".ico":  "image/vnd.microsoft.icon",
	".jpeg": "image/jpeg",
	".jpg":  "image/jpeg",
	".json": "application/json",
	".log":  "text/plain",
	".md":   "text/markdown",
	".mp3":  "audio/mpeg",
	".mp4":  "video/mp4",
	".mpeg": "video/mpeg",
	".msg":  "application/vnd.ms-outlook",
	".odp":  "application/vnd.oasis.opendocument.presentation",
	".ods":  "application/vnd.oasis.opendocument.spreadsheet",
	".odt":  "application/vnd.oasis.opendocument.text",
	".pdf":  "application/pdf",
	".png":  "image/png",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".rar":  "application/vnd.rar",
	".rtf":  "application/rtf",
	".svg":  "image/svg+xml",
	".tar":  "application/x-tar",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".txt":  "text/plain",
	".wav":  "audio/wav",
	".webm": "video/webm",
	".webp": "image/webp",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xml":  "application/xml",
	".zip":  "application/zip",
	".7z":   "application/x-7z-compressed",
}

// MimeTypeOf derives the mime type from the filename extension. The second
// result is false when the fallback type was used.
func MimeTypeOf(filename string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(filename))
	if mimeType, ok := mimeTypes[ext]; ok {
		return mimeType, true
	}
	return DefaultMimeType, false
}

// mediaTypeMatches reports whether mimeType is covered by pattern, which may
// be `*`, `type/*` or an exact media type.
func mediaTypeMatches(pattern, mimeType string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))

	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}

	switch {
	case pattern == "*" || pattern == "*/*":
		return true
	case strings.HasSuffix(pattern, "/*"):
		return strings.HasPrefix(mimeType, strings.TrimSuffix(pattern, "*"))
	default:
		return pattern == mimeType
	}
}
