package testutil

import "bytes"

// Minimal byte sequences that net/http content sniffing recognises. Each is
// padded with a per-call marker so separate artifacts never collide.

// JPEG returns bytes sniffed as image/jpeg.
func JPEG(marker string) []byte {
	return withBody([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, marker)
}

// PNG returns bytes sniffed as image/png.
func PNG(marker string) []byte {
	return withBody([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), marker)
}

// MP4 returns bytes sniffed as video/mp4.
func MP4(marker string) []byte {
	box := []byte{0x00, 0x00, 0x00, 0x18}
	box = append(box, []byte("ftypmp42\x00\x00\x00\x00mp42isom")...)
	return withBody(box, marker)
}

// WebM returns bytes sniffed as video/webm.
func WebM(marker string) []byte {
	return withBody([]byte{0x1A, 0x45, 0xDF, 0xA3}, marker)
}

// WAV returns bytes sniffed as audio/wave.
func WAV(marker string) []byte {
	return withBody([]byte("RIFF\x24\x00\x00\x00WAVEfmt "), marker)
}

// MP3 returns bytes sniffed as audio/mpeg.
func MP3(marker string) []byte {
	return withBody([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), marker)
}

// Text returns bytes that sniff as plain text.
func Text(marker string) []byte {
	return []byte("not a media file " + marker)
}

func withBody(header []byte, marker string) []byte {
	var buf bytes.Buffer
	buf.Write(header)
	buf.Write(bytes.Repeat([]byte{0x00}, 16))
	buf.WriteString(marker)
	return buf.Bytes()
}
