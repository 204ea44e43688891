package models

var supportedFormats = map[string]string{
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"ogg":  "audio/ogg",
	"flac": "audio/flac",
	"mp4":  "video/mp4",
	"webm": "video/webm",
}

// SupportedFormat reports whether f is a target the pipeline can produce.
func SupportedFormat(f string) bool {
	_, ok := supportedFormats[f]
	return ok
}

// ContentTypeForFormat maps a target format onto the MIME type served on
// download and stamped on uploaded outputs.
func ContentTypeForFormat(f string) string {
	if ct, ok := supportedFormats[f]; ok {
		return ct
	}
	return "application/octet-stream"
}

// VideoFormat reports whether the target carries a video stream and so gets
// a preview frame alongside the output.
func VideoFormat(f string) bool {
	return f == "mp4" || f == "webm"
}
