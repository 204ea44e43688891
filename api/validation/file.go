package validation

import (
	"bytes"
	"io"
	"mime/multipart"
	"strings"
)

// MediaType is the container detected from content, never from the
// filename extension.
type MediaType string

const (
	MediaTypeMP3  MediaType = "mp3"
	MediaTypeWAV  MediaType = "wav"
	MediaTypeOGG  MediaType = "ogg"
	MediaTypeFLAC MediaType = "flac"
	MediaTypeMP4  MediaType = "mp4"
	MediaTypeWebM MediaType = "webm"
	MediaTypeAVI  MediaType = "avi"
)

// Containers whose signature sits flat at offset zero. RIFF (wav/avi),
// ftyp (mp4/mov) and bare MPEG audio frames need structure checks instead.
var magicBytes = map[MediaType][]byte{
	MediaTypeOGG:  {0x4F, 0x67, 0x67, 0x53}, // OggS
	MediaTypeFLAC: {0x66, 0x4C, 0x61, 0x43}, // fLaC
	MediaTypeWebM: {0x1A, 0x45, 0xDF, 0xA3}, // EBML
}

// DetectMediaType sniffs the container from the leading bytes of the
// upload and rewinds the reader.
func DetectMediaType(file multipart.File) (MediaType, error) {
	buffer := make([]byte, 512)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return "", err
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	return sniffMediaType(buffer[:n])
}

func sniffMediaType(b []byte) (MediaType, error) {
	for mediaType, signature := range magicBytes {
		if bytes.HasPrefix(b, signature) {
			return mediaType, nil
		}
	}

	switch {
	case len(b) >= 12 && bytes.Equal(b[:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WAVE")):
		return MediaTypeWAV, nil
	case len(b) >= 12 && bytes.Equal(b[:4], []byte("RIFF")) && bytes.Equal(b[8:11], []byte("AVI")):
		return MediaTypeAVI, nil
	case len(b) >= 12 && bytes.Equal(b[4:8], []byte("ftyp")):
		return MediaTypeMP4, nil
	case len(b) >= 3 && bytes.Equal(b[:3], []byte("ID3")):
		return MediaTypeMP3, nil
	case len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0:
		// MPEG audio frame sync without an ID3 header.
		return MediaTypeMP3, nil
	}

	return "", ErrInvalidFileType
}

// ContentType maps the detected container onto the MIME type stamped on
// the stored input object.
func (t MediaType) ContentType() string {
	switch t {
	case MediaTypeMP3:
		return "audio/mpeg"
	case MediaTypeWAV:
		return "audio/wav"
	case MediaTypeOGG:
		return "audio/ogg"
	case MediaTypeFLAC:
		return "audio/flac"
	case MediaTypeMP4:
		return "video/mp4"
	case MediaTypeWebM:
		return "video/webm"
	case MediaTypeAVI:
		return "video/x-msvideo"
	default:
		return "application/octet-stream"
	}
}

// ValidateUpload checks size bounds and sniffs the container.
func ValidateUpload(header *multipart.FileHeader, file multipart.File, maxSize int64) (MediaType, error) {
	if header.Size <= 0 {
		return "", ErrEmptyFile
	}
	if header.Size > maxSize {
		return "", ErrFileTooLarge
	}
	return DetectMediaType(file)
}

// ValidateQuality accepts an empty value (the default applies) or a
// bitrate like "192k" or "320".
func ValidateQuality(q string) error {
	if q == "" {
		return nil
	}
	s := strings.TrimSuffix(strings.ToLower(q), "k")
	if s == "" || len(s) > 4 {
		return ErrInvalidQuality
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return ErrInvalidQuality
		}
	}
	return nil
}
