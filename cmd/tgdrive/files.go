// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"mime"
	"time"

	"go.astrophena.name/tgdrive/internal/telegram"
)

// incoming is a file attached to a message.
type incoming struct {
	kind     string // "document", "photo", ...
	fileID   string
	name     string
	size     int64 // as declared by Telegram, 0 if unknown
	duration time.Duration
}

// fileOf returns the file attached to m, if any.
func fileOf(m *telegram.Message) (incoming, bool) {
	switch {
	case m.Document != nil:
		d := m.Document
		return incoming{
			kind:   "document",
			fileID: d.FileID,
			name:   fileName(d.FileName, "document", d.FileUniqueID, d.MimeType, ""),
			size:   d.FileSize,
		}, true
	case len(m.Photo) > 0:
		// Sizes are sorted from the smallest to the largest.
		p := m.Photo[len(m.Photo)-1]
		return incoming{
			kind:   "photo",
			fileID: p.FileID,
			name:   "photo_" + p.FileUniqueID + ".jpg",
			size:   p.FileSize,
		}, true
	case m.Video != nil:
		v := m.Video
		return incoming{
			kind:     "video",
			fileID:   v.FileID,
			name:     fileName(v.FileName, "video", v.FileUniqueID, v.MimeType, ".mp4"),
			size:     v.FileSize,
			duration: seconds(v.Duration),
		}, true
	case m.Audio != nil:
		a := m.Audio
		return incoming{
			kind:     "audio",
			fileID:   a.FileID,
			name:     fileName(a.FileName, "audio", a.FileUniqueID, a.MimeType, ".mp3"),
			size:     a.FileSize,
			duration: seconds(a.Duration),
		}, true
	case m.Voice != nil:
		v := m.Voice
		return incoming{
			kind:     "voice",
			fileID:   v.FileID,
			name:     fileName("", "voice", v.FileUniqueID, v.MimeType, ".ogg"),
			size:     v.FileSize,
			duration: seconds(v.Duration),
		}, true
	case m.Animation != nil:
		a := m.Animation
		return incoming{
			kind:     "animation",
			fileID:   a.FileID,
			name:     fileName(a.FileName, "animation", a.FileUniqueID, a.MimeType, ".mp4"),
			size:     a.FileSize,
			duration: seconds(a.Duration),
		}, true
	}
	return incoming{}, false
}

// preferredExt maps MIME types to the extension people expect. The lists
// returned by mime.ExtensionsByType are sorted alphabetically, so for these
// types their first entry is an alias (".jpe" for image/jpeg).
var preferredExt = map[string]string{
	"application/pdf": ".pdf",
	"audio/mp4":       ".m4a",
	"audio/mpeg":      ".mp3",
	"audio/ogg":       ".ogg",
	"image/gif":       ".gif",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"text/plain":      ".txt",
	"video/mp4":       ".mp4",
	"video/quicktime": ".mov",
	"video/webm":      ".webm",
}

// fileName returns name if it's set. Otherwise it makes up one from kind and
// the unique file ID, with an extension guessed from mimeType. If mimeType is
// unknown, ext is used.
func fileName(name, kind, uniqueID, mimeType, ext string) string {
	if name != "" {
		return name
	}
	if e := extByType(mimeType); e != "" {
		ext = e
	}
	return kind + "_" + uniqueID + ext
}

func extByType(mimeType string) string {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return ""
	}
	if ext, ok := preferredExt[mt]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mt); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
