package blob

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// ImageHandler is where staged firmware bytes actually land. Mirrors
// ipmi_flash::ImageHandlerInterface; backed by os.File through a small
// interface (fileWriter) so tests can substitute an in-memory writer, the
// same seam sol.Manager uses for its buffer/sender fields.
type ImageHandler interface {
	Open(path string) bool
	Close()
	Write(offset uint32, data []byte) bool
	Size() int
}

type fileWriter interface {
	WriteAt(b []byte, off int64) (int, error)
	Close() error
	Stat() (os.FileInfo, error)
}

// FileImageHandler stages firmware bytes into a plain file, mirroring
// ipmi_flash::FileHandler.
type FileImageHandler struct {
	destPath string
	file     fileWriter
	size     int
}

// NewFileImageHandler builds an ImageHandler that stages bytes at destPath,
// for the blob json configuration's `handler: {type: "file"}` entries.
func NewFileImageHandler(destPath string) *FileImageHandler {
	return &FileImageHandler{destPath: destPath}
}

func (h *FileImageHandler) Open(path string) bool {
	f, err := os.OpenFile(h.destPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"blob_path": path, "dest": h.destPath}).
			Warn("blob: failed to open image destination")
		return false
	}
	h.file = f
	h.size = 0
	return true
}

func (h *FileImageHandler) Close() {
	if h.file != nil {
		h.file.Close()
		h.file = nil
	}
}

func (h *FileImageHandler) Write(offset uint32, data []byte) bool {
	if h.file == nil {
		return false
	}
	if _, err := h.file.WriteAt(data, int64(offset)); err != nil {
		log.WithError(err).Warn("blob: image write failed")
		return false
	}
	if end := int(offset) + len(data); end > h.size {
		h.size = end
	}
	return true
}

func (h *FileImageHandler) Size() int {
	return h.size
}
